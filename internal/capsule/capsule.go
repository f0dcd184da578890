package capsule

import "strings"

// Capsule is a community container owning posts, members and a history.
type Capsule struct {
	// ID is a ULID that uniquely identifies this capsule
	ID string `json:"id"`

	// Name is the display name as provided by the owner
	Name string `json:"name"`

	// NameNorm is the normalized name (lowercased, trimmed, collapsed spaces)
	NameNorm string `json:"name_norm"`

	// OwnerID is the user who created the capsule
	OwnerID string `json:"owner_id"`

	// Description is an optional blurb shown with the capsule
	Description *string `json:"description,omitempty"`

	// CreatedAt is the Unix timestamp when the capsule was created
	CreatedAt int64 `json:"created_at"`

	// UpdatedAt is the Unix timestamp when the capsule was last updated
	UpdatedAt int64 `json:"updated_at"`
}

// Role is a member's role within a capsule.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, bool) {
	switch r := Role(Normalize(s)); r {
	case RoleOwner, RoleAdmin, RoleModerator, RoleMember:
		return r, true
	}
	return "", false
}

// CanEditHistory reports whether the role may curate the capsule history.
func (r Role) CanEditHistory() bool {
	return r == RoleOwner || r == RoleAdmin || r == RoleModerator
}

// Member links a user to a capsule with a role.
type Member struct {
	CapsuleID string `json:"capsule_id"`
	UserID    string `json:"user_id"`
	Role      Role   `json:"role"`
	JoinedAt  int64  `json:"joined_at"`
}

// Post kinds recognised by the history narrative. Other kinds are stored as given.
const (
	KindText       = "text"
	KindPhoto      = "photo"
	KindVideo      = "video"
	KindPoll       = "poll"
	KindLink       = "link"
	KindLivestream = "livestream"
	KindLadder     = "ladder"
)

// Post is a raw post row as stored for a capsule.
type Post struct {
	ID         string  `json:"id"`
	CapsuleID  string  `json:"capsule_id"`
	AuthorID   string  `json:"author_id"`
	AuthorName *string `json:"author_name,omitempty"`
	Kind       string  `json:"kind"`
	Content    *string `json:"content,omitempty"`
	MediaCount int     `json:"media_count"`
	Likes      int     `json:"likes"`
	Comments   int     `json:"comments"`
	CreatedAt  int64   `json:"created_at"`
}

// NormalizeKind lowercases a post kind, defaulting to "text".
func NormalizeKind(kind string) string {
	k := strings.ReplaceAll(Normalize(kind), " ", "_")
	if k == "" {
		return KindText
	}
	return k
}
