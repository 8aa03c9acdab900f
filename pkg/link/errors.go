package link

import "errors"

var (
	// ErrLinkNotFound indicates no link exists for the slug or id.
	ErrLinkNotFound = errors.New("link not found")

	// ErrSlugTaken indicates the slug is already in use.
	ErrSlugTaken = errors.New("slug already taken")

	// ErrInvalidPassword indicates a failed password attempt on a
	// protected link.
	ErrInvalidPassword = errors.New("invalid link password")

	// ErrLinkInactive indicates the link is disabled or expired.
	ErrLinkInactive = errors.New("link is inactive")

	// ErrInvalidTarget indicates the destination URL is not acceptable.
	ErrInvalidTarget = errors.New("invalid target URL")
)
