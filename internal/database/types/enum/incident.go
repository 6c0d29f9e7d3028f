package enum

// IncidentStatus represents where an incident sits in its lifecycle.
// Transitions only go Pending -> Banned or Pending -> Released; terminal
// states never change.
type IncidentStatus int

const (
	// IncidentStatusPending indicates the incident awaits moderator review.
	IncidentStatusPending IncidentStatus = iota
	// IncidentStatusBanned indicates a moderator banned the offending user.
	IncidentStatusBanned
	// IncidentStatusReleased indicates a moderator released the user.
	IncidentStatusReleased
)

// String returns the lowercase name stored in the database.
func (s IncidentStatus) String() string {
	switch s {
	case IncidentStatusPending:
		return "pending"
	case IncidentStatusBanned:
		return "banned"
	case IncidentStatusReleased:
		return "released"
	default:
		return "unknown"
	}
}

// SpamReason identifies which detection track produced a verdict. It is a
// closed set; consumers switch exhaustively so a new track cannot be added
// without every consumer handling it.
type SpamReason int

const (
	// SpamReasonNone indicates no track crossed its threshold.
	SpamReasonNone SpamReason = iota
	// SpamReasonSimilarText indicates near-duplicate text across channels.
	SpamReasonSimilarText
	// SpamReasonAttachmentSpam indicates attachment flooding across channels.
	SpamReasonAttachmentSpam
	// SpamReasonBoth indicates both tracks fired on the same message.
	SpamReasonBoth
	// SpamReasonNewAccountLink indicates a recently joined account posted a
	// link outside the guild's allow-list.
	SpamReasonNewAccountLink
)

// String returns a human-readable label used in logs and alert cards.
func (r SpamReason) String() string {
	switch r {
	case SpamReasonNone:
		return "none"
	case SpamReasonSimilarText:
		return "similar text"
	case SpamReasonAttachmentSpam:
		return "attachment spam"
	case SpamReasonBoth:
		return "similar text + attachment spam"
	case SpamReasonNewAccountLink:
		return "new account link"
	default:
		return "unknown"
	}
}
