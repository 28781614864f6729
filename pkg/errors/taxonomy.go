package errors

import "fmt"

// NotFound reports that a path could not be resolved.
func NotFound(path string) *ProviderError {
	return NewError(ErrCodeNotFound, fmt.Sprintf("Could not retrieve file or directory %s", path)).
		WithPath(path)
}

// Metadata reports a malformed or unexpected backend response.
func Metadata(message string, status int) *ProviderError {
	return NewError(ErrCodeMetadata, message).WithStatus(status)
}

// Download reports a failed download.
func Download(message string, status int) *ProviderError {
	return NewError(ErrCodeDownload, message).WithStatus(status)
}

// Upload reports a failed upload.
func Upload(message string, status int) *ProviderError {
	return NewError(ErrCodeUpload, message).WithStatus(status)
}

// Delete reports a failed or refused delete.
func Delete(message string, status int) *ProviderError {
	return NewError(ErrCodeDelete, message).WithStatus(status)
}

// CreateFolder reports a failed folder creation.
func CreateFolder(message string, status int) *ProviderError {
	return NewError(ErrCodeCreateFolder, message).WithStatus(status)
}

// IntraCopy reports a failed backend-native copy.
func IntraCopy(message string, status int) *ProviderError {
	return NewError(ErrCodeIntraCopy, message).WithStatus(status)
}

// IntraMove reports a failed backend-native move.
func IntraMove(message string, status int) *ProviderError {
	return NewError(ErrCodeIntraMove, message).WithStatus(status)
}

// FolderNamingConflict reports that a folder cannot be created over an existing entry.
func FolderNamingConflict(name string) *ProviderError {
	return NewError(ErrCodeFolderNamingConflict, fmt.Sprintf(
		"Cannot create folder %q, because a file or folder already exists with that name", name)).
		WithPath(name)
}

// NamingConflict reports that the destination already exists and the conflict policy forbids replacing it.
func NamingConflict(name string) *ProviderError {
	return NewError(ErrCodeNamingConflict, fmt.Sprintf(
		"Cannot complete action: file or folder %q already exists in this location", name)).
		WithPath(name)
}

// OverwriteSelf reports a copy or move of an entry onto itself.
func OverwriteSelf(path string) *ProviderError {
	return NewError(ErrCodeOverwriteSelf, fmt.Sprintf(
		"Unable to move or copy '%s'. Moving or copying a file or folder onto itself is not supported.", path)).
		WithPath(path)
}

// InvalidParameters reports caller misuse.
func InvalidParameters(message string) *ProviderError {
	return NewError(ErrCodeInvalidParameters, message)
}

// InvalidPath reports a path string that cannot be parsed.
func InvalidPath(path, reason string) *ProviderError {
	return NewError(ErrCodeInvalidPath, fmt.Sprintf("invalid path %q: %s", path, reason)).WithPath(path)
}

// AmbiguousPath reports more than one backend entry matching a path segment.
func AmbiguousPath(path string, matches int) *ProviderError {
	return NewError(ErrCodeAmbiguousPath, fmt.Sprintf(
		"%s is ambiguous: %d entries share that name", path, matches)).
		WithPath(path).
		WithDetail("matches", matches)
}

// DataIntegrity reports a checksum mismatch after a transfer.
func DataIntegrity(algorithm, expected, actual string) *ProviderError {
	return NewError(ErrCodeDataIntegrity, fmt.Sprintf(
		"Uploaded file checksum mismatch: %s expected %s, backend reported %s", algorithm, expected, actual)).
		WithDetail("algorithm", algorithm).
		WithDetail("expected", expected).
		WithDetail("actual", actual)
}

// Unsupported reports an operation a backend does not implement.
func Unsupported(provider, operation string) *ProviderError {
	return NewError(ErrCodeUnsupportedOperation, fmt.Sprintf("%s does not support %s", provider, operation)).
		WithOperation(operation)
}

// CredentialsMissing reports that no credential extension produced a credential.
func CredentialsMissing() *ProviderError {
	return NewError(ErrCodeCredentialsMissing, "no valid credential found")
}

// CallbackFailed reports a non-2xx answer from the audit callback.
func CallbackFailed(url string, status int) *ProviderError {
	return NewError(ErrCodeCallbackFailed, fmt.Sprintf("callback %s responded with status %d", url, status)).
		WithDetail("callback_status", status)
}
