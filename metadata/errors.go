package metadata

import (
	"errors"
	"fmt"
)

// Resolution error kinds, comparable with errors.Is
var (
	ErrClassLoad            = errors.New("class load failed")
	ErrNoDefaultConstructor = errors.New("no default constructor")
	ErrTestContextType      = errors.New("test context property has incorrect type")
	ErrTestContextAmbiguous = errors.New("test context property is ambiguous")
	ErrLifecycleSignature   = errors.New("lifecycle method has wrong signature")
	ErrDuplicateLifecycle   = errors.New("duplicate lifecycle method")
	ErrMethodNotFound       = errors.New("test method not found")
	ErrTestMethodSignature  = errors.New("test method has wrong signature")
	ErrInvalidTimeout       = errors.New("invalid timeout")
	ErrDataSource           = errors.New("invalid data source")
)

const asyncHint = " Additionally, if you are using async-await in method then return-type must be Task."

// ResolutionError is returned when the metadata of a test cannot be resolved. Its message is
// user facing and ends up in the test's result.
type ResolutionError struct {
	Kind    error
	Class   string
	Method  string
	Message string
	Cause   error
}

// Error implements the error interface
func (e *ResolutionError) Error() string {
	return e.Message
}

// Unwrap exposes both the kind and the underlying cause to errors.Is and errors.As
func (e *ResolutionError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// IsResolutionError reports whether err is, or wraps, a ResolutionError
func IsResolutionError(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}

func classLoadError(class string, cause error) *ResolutionError {
	return &ResolutionError{
		Kind:    ErrClassLoad,
		Class:   class,
		Message: fmt.Sprintf("Unable to get type %s. Error: %v", class, cause),
		Cause:   cause,
	}
}

func noDefaultConstructorError(class string) *ResolutionError {
	return &ResolutionError{
		Kind:    ErrNoDefaultConstructor,
		Class:   class,
		Message: fmt.Sprintf("Unable to get default constructor for class %s.", class),
	}
}

func testContextTypeError(class string) *ResolutionError {
	return &ResolutionError{
		Kind:    ErrTestContextType,
		Class:   class,
		Message: fmt.Sprintf("The %s.TestContext has incorrect type.", class),
	}
}

func testContextAmbiguousError(class string) *ResolutionError {
	return &ResolutionError{
		Kind:    ErrTestContextAmbiguous,
		Class:   class,
		Message: fmt.Sprintf("Unable to find property %s.TestContext. Error:Ambiguous match found.", class),
	}
}

func signatureError(class, method, requirement string) *ResolutionError {
	return &ResolutionError{
		Kind:    ErrLifecycleSignature,
		Class:   class,
		Method:  method,
		Message: fmt.Sprintf("Method %s.%s has wrong signature. %s%s", class, method, requirement, asyncHint),
	}
}

func duplicateError(code, class, marker, scope string) *ResolutionError {
	return &ResolutionError{
		Kind:    ErrDuplicateLifecycle,
		Class:   class,
		Message: fmt.Sprintf("%s: %s: Cannot define more than one method with the %s attribute%s.", code, class, marker, scope),
	}
}

func methodNotFoundError(class, method string) *ResolutionError {
	return &ResolutionError{
		Kind:    ErrMethodNotFound,
		Class:   class,
		Method:  method,
		Message: fmt.Sprintf("Method %s.%s does not exist.", class, method),
	}
}

func testMethodSignatureError(class, method string) *ResolutionError {
	return &ResolutionError{
		Kind:   ErrTestMethodSignature,
		Class:  class,
		Method: method,
		Message: fmt.Sprintf("UTA007: Method %s defined in class %s does not have correct signature. "+
			"Test method must be non-static, public, does not return a value and should not take any parameter.%s",
			method, class, asyncHint),
	}
}

func invalidTimeoutError(class, method string) *ResolutionError {
	return &ResolutionError{
		Kind:    ErrInvalidTimeout,
		Class:   class,
		Method:  method,
		Message: fmt.Sprintf("UTA054: %s.%s has invalid Timeout attribute. The timeout must be a valid integer value and cannot be less than 0.", class, method),
	}
}

func dataSourceError(class, method, reason string) *ResolutionError {
	return &ResolutionError{
		Kind:    ErrDataSource,
		Class:   class,
		Method:  method,
		Message: fmt.Sprintf("The data source of %s.%s is misconfigured: %s", class, method, reason),
	}
}
