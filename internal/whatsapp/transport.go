package whatsapp

import (
	"context"
	"path"
	"strings"
	"time"
)

type PayloadKind string

const (
	PayloadText  PayloadKind = "text"
	PayloadImage PayloadKind = "image"
	PayloadVideo PayloadKind = "video"
)

// Payload is an outbound message. For media kinds Text is the caption and
// either Data or URL must be set; URLs are fetched before sending.
type Payload struct {
	Kind     PayloadKind
	Text     string
	Data     []byte
	URL      string
	MimeType string
}

func Text(body string) Payload {
	return Payload{Kind: PayloadText, Text: body}
}

func ImageURL(url, caption string) Payload {
	return Payload{Kind: PayloadImage, URL: url, Text: caption}
}

func VideoURL(url, caption string) Payload {
	return Payload{Kind: PayloadVideo, URL: url, Text: caption}
}

// MediaPayload picks image or video from the URL's extension. An empty
// URL yields a text payload.
func MediaPayload(url, caption string) Payload {
	if url == "" {
		return Text(caption)
	}
	ext := strings.ToLower(path.Ext(strings.SplitN(url, "?", 2)[0]))
	switch ext {
	case ".mp4", ".mov", ".3gp", ".mkv", ".webm", ".avi":
		return VideoURL(url, caption)
	default:
		return ImageURL(url, caption)
	}
}

func (p Payload) IsMedia() bool {
	return p.Kind == PayloadImage || p.Kind == PayloadVideo
}

// InboundMessage is a message received from the network.
type InboundMessage struct {
	ID          string    `json:"id"`
	ChatJID     string    `json:"chat_jid"`
	SenderJID   string    `json:"sender_jid"`
	PushName    string    `json:"push_name"`
	Type        string    `json:"type"`
	Text        string    `json:"text"`
	IsGroup     bool      `json:"is_group"`
	IsBroadcast bool      `json:"is_broadcast"`
	FromMe      bool      `json:"from_me"`
	Timestamp   time.Time `json:"timestamp"`
}

// DisconnectCause classifies why the transport dropped.
type DisconnectCause int

const (
	// CauseTransient covers network drops; reconnect after a fixed delay.
	CauseTransient DisconnectCause = iota
	// CauseRestartRequired asks for an immediate reconnect.
	CauseRestartRequired
	// CauseLoggedOut means the credentials were invalidated.
	CauseLoggedOut
	// CausePairingExpired means the pairing window closed before the code
	// was used. The socket is closed and no retry is made.
	CausePairingExpired
)

func (c DisconnectCause) String() string {
	switch c {
	case CauseRestartRequired:
		return "restart_required"
	case CauseLoggedOut:
		return "logged_out"
	case CausePairingExpired:
		return "pairing_expired"
	default:
		return "transient"
	}
}

type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventMessage
)

// Event is reported by a Transport to its owner.
type Event struct {
	Kind       EventKind
	Cause      DisconnectCause
	EndpointID string
	Message    InboundMessage
}

type GroupInfo struct {
	JID          string `json:"jid"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Participants int    `json:"participants"`
}

// Transport is the underlying protocol client.
type Transport interface {
	// Open loads or initialises credentials and opens the socket.
	// registered reports whether the credentials are already paired.
	Open(ctx context.Context, onEvent func(Event)) (registered bool, err error)
	PairPhone(ctx context.Context, phone string) (string, error)
	Send(ctx context.Context, to string, p Payload) error
	JoinedGroups(ctx context.Context) ([]GroupInfo, error)
	Logout(ctx context.Context) error
	Close()
	PurgeCredentials(ctx context.Context) error
}
