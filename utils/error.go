package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// ErrorSchemeNotRecognised is terminal: no resolution record may be created for it.
var ErrorSchemeNotRecognised = errors.New("identifier scheme not recognised")
