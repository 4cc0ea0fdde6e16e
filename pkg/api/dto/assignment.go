package dto

// ReviewActionRequest carries the actor performing a review transition and
// its supporting details.
type ReviewActionRequest struct {
	Actor    string `json:"actor" validate:"required"`
	Comments string `json:"comments,omitempty"`
	// Reason is required for rejections and escalations.
	Reason string `json:"reason,omitempty"`
	// Modifications lists the requested changes for MODIFICATION_REQUESTED.
	Modifications []string `json:"modifications,omitempty"`
}
