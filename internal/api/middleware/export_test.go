package middleware

// SetKeyPrefix exposes setKeyPrefix to the external test package.
var SetKeyPrefix = setKeyPrefix
