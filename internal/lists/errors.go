package lists

import "errors"

var ErrListNotFound = errors.New("list not found")
var ErrInvalidEmail = errors.New("invalid email address")
var ErrAlreadyConfirmed = errors.New("already subscribed")
var ErrNotConfirmed = errors.New("not subscribed")
var ErrInvalidToken = errors.New("invalid confirmation code")
var ErrTooManyRequests = errors.New("too many confirmation requests for this address")

var ErrMailingNotFound = errors.New("mailing not found")
var ErrAlreadySent = errors.New("mailing already sent")

// ErrInvalidMailing is returned when a mailing is staged without an id or a subject.
var ErrInvalidMailing = errors.New("a mailing needs an id and a subject")

// ErrMailingConflict is returned when a mailing id is already used by another list.
var ErrMailingConflict = errors.New("mailing id is used by another list")
