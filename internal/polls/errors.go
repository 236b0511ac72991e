package polls

import "github.com/zamapoll/backend/internal/apperrors"

var (
	ErrNotFound       = apperrors.New(apperrors.CodeNotFound, "poll not found")
	ErrOptionNotFound = apperrors.New(apperrors.CodeNotFound, "option not found")
	ErrMalformedID    = apperrors.New(apperrors.CodeMalformedID, "malformed poll id")
	ErrNotVotable     = apperrors.New(apperrors.CodePollNotVotable, "poll is not accepting votes")
	ErrInvalidOption  = apperrors.New(apperrors.CodeInvalidOption, "option does not belong to this poll")
	ErrAlreadyVoted   = apperrors.New(apperrors.CodeAlreadyVoted, "this email has already voted in this poll")
)

func validationError(msg string) error {
	return apperrors.New(apperrors.CodeValidation, msg)
}
