package engine

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// APIType names the backend a messenger talks to.
type APIType string

const (
	APINone     APIType = "none"
	APITelegram APIType = "telegram"
	APIViber    APIType = "viber"
)

// Messenger is a configured bot account bound to one backend.
type Messenger struct {
	ID          int64
	Title       string
	APIType     APIType
	Token       string
	Proxy       string
	Logo        string
	WelcomeText string
	// Handler is the registry key used when a conversation has no current menu.
	Handler string
	// MenuID is the root menu new conversations start in; 0 means none.
	MenuID int64
	// Hash identifies the messenger in webhook URLs.
	Hash string
	// IsActive reports whether the webhook is registered.
	IsActive  bool
	UpdatedAt time.Time
	CreatedAt time.Time
}

// TokenHash returns the md5 hex digest of a messenger token.
func TokenHash(token string) string {
	sum := md5.Sum([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Conversation is the durable state kept for one sender of one messenger.
type Conversation struct {
	ID          int64
	MessengerID int64
	SenderID    string
	Username    string
	UTMSource   string
	// CurrentMenuID is 0 when the messenger default handler applies.
	CurrentMenuID int64
	Context       map[string]any
	Info          map[string]any
	IsActive      bool
	UpdatedAt     time.Time
	CreatedAt     time.Time
}

// SameIdentity reports whether c and other refer to the same stored record.
func (c *Conversation) SameIdentity(other *Conversation) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.MessengerID == other.MessengerID && c.SenderID == other.SenderID
}

// Avatar returns the avatar URL recorded in the profile info.
func (c *Conversation) Avatar() string {
	if c == nil || c.Info == nil {
		return ""
	}
	s, _ := c.Info["avatar"].(string)
	return s
}

// Clone returns a copy whose maps can be modified independently.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Context = cloneMap(c.Context)
	cp.Info = cloneMap(c.Info)
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Menu is a navigation node.
type Menu struct {
	ID      int64
	Title   string
	Message string
	Comment string
	Handler string
}

// Button is a navigation edge shared between menus.
type Button struct {
	ID         int64
	Title      string
	Text       string
	Command    string
	Message    string
	Comment    string
	Handler    string
	NextMenuID int64
	ForStaff   bool
	ForAdmin   bool
	IsInline   bool
	IsActive   bool
}

// Action describes what the button does: its handler key, else its destination menu.
func (b Button) Action() string {
	if b.Handler != "" {
		return b.Handler
	}
	if b.NextMenuID != 0 {
		return "menu:" + strconv.FormatInt(b.NextMenuID, 10)
	}
	return ""
}

// Label returns the text shown on the button.
func (b Button) Label() string {
	if b.Text != "" {
		return b.Text
	}
	return b.Title
}

// maxCommandBase keeps generated commands within the 64 byte callback data
// limit of inline keyboards.
const maxCommandBase = 56

// NewButtonCommand returns a unique command for a button titled title.
func NewButtonCommand(title string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	base := Slugify("btn-" + title)
	if len(base) > maxCommandBase {
		base = strings.TrimRight(base[:maxCommandBase], "-_")
	}
	return base + "-" + suffix
}

var asciiFold = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify lowercases s, folds it to ASCII and joins words with hyphens.
func Slugify(s string) string {
	folded, _, err := transform.String(asciiFold, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'):
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		case r == '-' || unicode.IsSpace(r):
			pendingDash = true
		}
	}
	return strings.Trim(b.String(), "-_")
}
