package models

import "fmt"

// AwaitTypeMessage is the message variant tag. It is currently the only
// await variant; the type field exists so new variants can be added
// without a wire break.
const AwaitTypeMessage = "message"

// AwaitRequest is posted by an agent to pause its run and solicit
// out-of-band client input.
type AwaitRequest struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// AwaitResume carries the client's answer to a pending AwaitRequest.
// Its Type must match the pending request's Type.
type AwaitResume struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// Validate checks the variant tag.
func (r *AwaitRequest) Validate() error {
	if r.Type != AwaitTypeMessage {
		return fmt.Errorf("await request: unknown type %q", r.Type)
	}
	return nil
}

// Validate checks the variant tag.
func (r *AwaitResume) Validate() error {
	if r.Type != AwaitTypeMessage {
		return fmt.Errorf("await resume: unknown type %q", r.Type)
	}
	return nil
}

// Matches reports whether the resume answers the given request.
func (r *AwaitResume) Matches(req *AwaitRequest) bool {
	return req != nil && r.Type == req.Type
}
