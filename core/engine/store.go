package engine

import "context"

// ConversationStore persists per sender conversation state.
type ConversationStore interface {
	// GetOrCreate returns the conversation for (messengerID, senderID), inserting
	// defaults when absent. created reports whether this call inserted it.
	GetOrCreate(ctx context.Context, messengerID int64, senderID string, defaults Conversation) (conv *Conversation, created bool, err error)
	Get(ctx context.Context, messengerID int64, senderID string) (*Conversation, error)
	// Save overwrites the whole record.
	Save(ctx context.Context, conv *Conversation) error
	// UpdateProfile writes only username, info and the active flag.
	UpdateProfile(ctx context.Context, conv *Conversation) error
}

// MenuGraph stores menus, buttons and their membership.
type MenuGraph interface {
	Menu(ctx context.Context, id int64) (*Menu, error)
	MenuByTitle(ctx context.Context, title string) (*Menu, error)
	// MenuButtons lists the buttons of a menu in stored order.
	MenuButtons(ctx context.Context, menuID int64) ([]Button, error)
	// FindButtons returns buttons whose command or text equals token, in stored order.
	// menuID 0 searches all buttons.
	FindButtons(ctx context.Context, menuID int64, token string) ([]Button, error)
	Button(ctx context.Context, id int64) (*Button, error)
	CreateMenu(ctx context.Context, m *Menu) error
	UpdateMenu(ctx context.Context, m *Menu) error
	DeleteMenu(ctx context.Context, id int64) error
	// CreateButton assigns a command when empty.
	CreateButton(ctx context.Context, b *Button) error
	// UpdateButton never changes an already assigned command.
	UpdateButton(ctx context.Context, b *Button) error
	AttachButton(ctx context.Context, menuID, buttonID int64) error
	DetachButton(ctx context.Context, menuID, buttonID int64) error
}

// MessengerStore persists messenger accounts.
type MessengerStore interface {
	GetByHash(ctx context.Context, hash string) (*Messenger, error)
	GetByID(ctx context.Context, id int64) (*Messenger, error)
	List(ctx context.Context) ([]Messenger, error)
	// Create computes Hash from the token and fails with ErrConflict on a
	// duplicate (token, api type) pair.
	Create(ctx context.Context, m *Messenger) error
	Update(ctx context.Context, m *Messenger) error
	SetActive(ctx context.Context, id int64, active bool) error
}

// Store bundles the persistence interfaces used by the engine.
type Store interface {
	Conversations() ConversationStore
	Menus() MenuGraph
	Messengers() MessengerStore
}

// IDGenerator issues unique entity ids.
type IDGenerator interface {
	NextID() int64
}
