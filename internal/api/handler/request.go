package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/jobtracker/internal/api/middleware"
	"github.com/kiranshivaraju/jobtracker/internal/api/response"
	"github.com/kiranshivaraju/jobtracker/internal/store"
	"github.com/kiranshivaraju/jobtracker/pkg/models"
)

const maxBodyBytes = 4 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report json names instead of Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// errInvalidBody marks a request body that could not be decoded.
var errInvalidBody = errors.New("invalid JSON body")

// decodeBody reads a JSON body into dst and validates its struct tags.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return validate.Struct(dst)
}

// writeBodyError answers a decodeBody failure with 400 and, for validation
// failures, the failing field and rule.
func writeBodyError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			details[fieldPath(fe)] = fe.Tag()
		}
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Request validation failed", details)
		return
	}
	response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
}

// fieldPath drops the top-level struct name from a namespace like
// "request.files[0].file_type".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", name+" must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

// Lookup resolves the owning agency of submissions and jobs.
type Lookup interface {
	GetSubmission(ctx context.Context, id uuid.UUID) (*models.Submission, error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// ownedSubmission loads a submission visible to the caller. Submissions of
// other agencies are reported as missing unless the key is an admin key.
func ownedSubmission(r *http.Request, lookup Lookup, id uuid.UUID) (*models.Submission, error) {
	sub, err := lookup.GetSubmission(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if !visible(r, sub.AgencyID) {
		return nil, fmt.Errorf("submission %s: %w", id, store.ErrNotFound)
	}
	return sub, nil
}

// ownedJob loads a job whose submission is visible to the caller.
func ownedJob(r *http.Request, lookup Lookup, id uuid.UUID) (*models.Job, error) {
	job, err := lookup.GetJob(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if _, err := ownedSubmission(r, lookup, job.SubmissionID); err != nil {
		return nil, err
	}
	return job, nil
}

func visible(r *http.Request, agencyID uuid.UUID) bool {
	if mw.GetPermissions(r).Has(models.CapabilityAdmin) {
		return true
	}
	caller, ok := mw.GetAgencyID(r)
	return ok && caller == agencyID
}
