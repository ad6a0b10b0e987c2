package store

import "time"

// AccountStatus is the health classification of an upstream account.
type AccountStatus string

const (
	AccountActive       AccountStatus = "active"
	AccountCooldown     AccountStatus = "cooldown"
	AccountBanned       AccountStatus = "banned"
	AccountAuthRequired AccountStatus = "auth_required"
	AccountForbidden    AccountStatus = "forbidden"
	AccountError        AccountStatus = "error"
)

// ChannelType distinguishes public (username) channels from private
// (invite hash) ones.
type ChannelType string

const (
	ChannelPublic  ChannelType = "public"
	ChannelPrivate ChannelType = "private"
)

// ChannelAccessStatus is the channel-global access state.
type ChannelAccessStatus string

const (
	ChannelAccessActive          ChannelAccessStatus = "active"
	ChannelAccessJoinRequested   ChannelAccessStatus = "join_requested"
	ChannelAccessPendingApproval ChannelAccessStatus = "pending_approval"
	ChannelAccessJoined          ChannelAccessStatus = "joined"
	ChannelAccessForbidden       ChannelAccessStatus = "forbidden"
	ChannelAccessError           ChannelAccessStatus = "error"
)

// MembershipStatus is the per-(account, channel) access state.
type MembershipStatus string

const (
	MembershipUnknown         MembershipStatus = "unknown"
	MembershipJoinRequested   MembershipStatus = "join_requested"
	MembershipPendingApproval MembershipStatus = "pending_approval"
	MembershipJoined          MembershipStatus = "joined"
	MembershipForbidden       MembershipStatus = "forbidden"
	MembershipError           MembershipStatus = "error"
)

// Pending reports whether the status represents an outstanding join
// request. At most one account per channel may hold a pending
// membership at a time.
func (s MembershipStatus) Pending() bool {
	return s == MembershipJoinRequested || s == MembershipPendingApproval
}

// Account is an upstream client identity with a session capability.
type Account struct {
	ID               int64
	Label            string
	PhoneNumber      string
	OnboardingMethod string
	IsActive         bool
	Status           AccountStatus
	CooldownUntil    *time.Time
	LastError        string
	SessionString    string
	APIID            int
	APIHash          string
	ProxyURL         string
	LastUsedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Channel is an upstream content stream to harvest.
type Channel struct {
	ID              int64
	Type            ChannelType
	Identifier      string
	Title           string
	IsActive        bool
	AddedAt         time.Time
	BackfillDays    int
	AccessStatus    ChannelAccessStatus
	LastCheckedAt   *time.Time
	CursorMessageID int64 // 0 means not yet parsed
	PeerID          int64 // 0 means not yet resolved
	LastError       string
}

// Post is one harvested message.
type Post struct {
	ID          int64
	ChannelID   int64
	MessageID   int64
	OriginalURL string
	PublishedAt time.Time
	Text        string
	CreatedAt   time.Time
}

// Membership records whether a given account can parse a given channel.
type Membership struct {
	ID              int64
	AccountID       int64
	ChannelID       int64
	Status          MembershipStatus
	Note            string
	JoinRequestedAt *time.Time
	JoinedAt        *time.Time
	ForbiddenAt     *time.Time
	LastCheckedAt   *time.Time
	UpdatedAt       time.Time
}

// BotUser is an operator-bot user; staff users with notifications
// enabled receive team broadcasts.
type BotUser struct {
	ID             int64
	TelegramUserID int64
	IsStaff        bool
	NotifyEnabled  bool
	FirstSeenAt    time.Time
	LastSeenAt     time.Time
}
