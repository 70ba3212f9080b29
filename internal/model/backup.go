package model

import "time"

// Backup records one transfer attempt from an origin to a destination.
//
// Success is nil while the attempt is in flight. RelatedTo points at the
// verification record spawned by a restore check, and RestoreDT is only set
// when such a check actually ran. Verification records themselves carry
// IsVerification and are never linked further.
type Backup struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	OriginID       *string    `json:"origin_id,omitempty"`
	DestinationID  string     `json:"destination_id"`
	Date           time.Time  `json:"date"`
	Success        *bool      `json:"success"`
	BeforeRestore  bool       `json:"before_restore"`
	AfterRestore   bool       `json:"after_restore"`
	RestoreDT      *time.Time `json:"restore_dt,omitempty"`
	RelatedTo      *string    `json:"related_to,omitempty"`
	IsVerification bool       `json:"is_verification"`
	SHA1Sum        string     `json:"sha1sum,omitempty"`
	SizeBytes      int64      `json:"size_bytes"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Pending reports whether the attempt has not reached a terminal state.
func (b *Backup) Pending() bool {
	return b.Success == nil
}

// Succeeded reports whether the attempt finished successfully.
func (b *Backup) Succeeded() bool {
	return b.Success != nil && *b.Success
}
