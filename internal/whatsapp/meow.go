package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waEvents "go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

var errNoClient = errors.New("whatsapp client not opened")

// MeowTransport implements Transport on whatsmeow with credentials kept in
// a SQL device store.
type MeowTransport struct {
	container  *sqlstore.Container
	deviceName string
	log        *zap.Logger

	mu          sync.Mutex
	client      *whatsmeow.Client
	handlerID   uint32
	stopPairing context.CancelFunc
}

// NewMeowTransport opens the device store. dialect is sqlite3 or postgres.
func NewMeowTransport(ctx context.Context, dialect, dsn, deviceName string, log *zap.Logger) (*MeowTransport, error) {
	log = log.With(zap.String("component", "whatsmeow"))
	container, err := sqlstore.New(ctx, dialect, dsn, NewMeowLogger(log.Named("store")))
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}
	return &MeowTransport{
		container:  container,
		deviceName: deviceName,
		log:        log,
	}, nil
}

func (t *MeowTransport) Open(ctx context.Context, onEvent func(Event)) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closeLocked()

	device, err := t.container.GetFirstDevice(ctx)
	if err != nil {
		return false, fmt.Errorf("load device: %w", err)
	}

	client := whatsmeow.NewClient(device, NewMeowLogger(t.log.Named("client")))
	client.EnableAutoReconnect = false
	t.handlerID = client.AddEventHandler(func(evt interface{}) {
		dispatchMeowEvent(client, evt, onEvent, t.log)
	})

	registered := client.Store.ID != nil
	if !registered {
		// PairPhone needs the QR channel open before the socket connects.
		pairCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
		qrChan, err := client.GetQRChannel(pairCtx)
		if err != nil {
			stop()
			return false, fmt.Errorf("open qr channel: %w", err)
		}
		t.stopPairing = stop
		go watchPairing(pairCtx, qrChan, onEvent, t.log)
	}

	if err := client.Connect(); err != nil {
		client.RemoveEventHandler(t.handlerID)
		t.cancelPairingLocked()
		return false, fmt.Errorf("connect: %w", err)
	}
	t.client = client
	return registered, nil
}

// watchPairing reports a pairing window that ends without success. whatsmeow
// disconnects on its own in that case and sends no Disconnected event.
// Nothing is reported once ctx is done, that is after the client was closed.
func watchPairing(ctx context.Context, qrChan <-chan whatsmeow.QRChannelItem, onEvent func(Event), log *zap.Logger) {
	reported := false
	for item := range qrChan {
		log.Debug("Pairing channel event", zap.String("event", item.Event))
		switch item.Event {
		case whatsmeow.QRChannelEventCode, whatsmeow.QRChannelSuccess.Event:
			continue
		}
		if reported || ctx.Err() != nil {
			continue
		}
		reported = true
		if item.Error != nil {
			log.Warn("Pairing ended", zap.String("event", item.Event), zap.Error(item.Error))
		}
		onEvent(Event{Kind: EventDisconnected, Cause: CausePairingExpired})
	}
}

func (t *MeowTransport) PairPhone(ctx context.Context, phone string) (string, error) {
	client := t.current()
	if client == nil {
		return "", errNoClient
	}
	return client.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, t.deviceName)
}

func (t *MeowTransport) Send(ctx context.Context, to string, p Payload) error {
	client := t.current()
	if client == nil {
		return errNoClient
	}
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("parse jid %q: %w", to, err)
	}

	msg, err := t.buildMessage(ctx, client, p)
	if err != nil {
		return err
	}
	if _, err := client.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("send to %s: %w", jid, err)
	}
	return nil
}

func (t *MeowTransport) buildMessage(ctx context.Context, client *whatsmeow.Client, p Payload) (*waE2E.Message, error) {
	switch p.Kind {
	case PayloadImage:
		up, err := client.Upload(ctx, p.Data, whatsmeow.MediaImage)
		if err != nil {
			return nil, fmt.Errorf("upload image: %w", err)
		}
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(p.Text),
			Mimetype:      proto.String(mimeOr(p.MimeType, "image/jpeg")),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}, nil
	case PayloadVideo:
		up, err := client.Upload(ctx, p.Data, whatsmeow.MediaVideo)
		if err != nil {
			return nil, fmt.Errorf("upload video: %w", err)
		}
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       proto.String(p.Text),
			Mimetype:      proto.String(mimeOr(p.MimeType, "video/mp4")),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}, nil
	default:
		return &waE2E.Message{Conversation: proto.String(p.Text)}, nil
	}
}

func (t *MeowTransport) JoinedGroups(ctx context.Context) ([]GroupInfo, error) {
	client := t.current()
	if client == nil {
		return nil, errNoClient
	}
	groups, err := client.GetJoinedGroups(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]GroupInfo, 0, len(groups))
	for _, g := range groups {
		out = append(out, GroupInfo{
			JID:          g.JID.String(),
			Name:         g.Name,
			Description:  g.Topic,
			Participants: len(g.Participants),
		})
	}
	return out, nil
}

func (t *MeowTransport) Logout(ctx context.Context) error {
	client := t.current()
	if client == nil {
		return errNoClient
	}
	return client.Logout(ctx)
}

func (t *MeowTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
}

func (t *MeowTransport) cancelPairingLocked() {
	if t.stopPairing != nil {
		t.stopPairing()
		t.stopPairing = nil
	}
}

func (t *MeowTransport) closeLocked() {
	t.cancelPairingLocked()
	if t.client == nil {
		return
	}
	t.client.RemoveEventHandler(t.handlerID)
	t.client.Disconnect()
	t.client = nil
}

// PurgeCredentials deletes the stored device so the next Open starts a
// fresh pairing.
func (t *MeowTransport) PurgeCredentials(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()

	device, err := t.container.GetFirstDevice(ctx)
	if err != nil {
		return err
	}
	if device.ID == nil {
		return nil
	}
	return device.Delete(ctx)
}

func (t *MeowTransport) current() *whatsmeow.Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client
}

func dispatchMeowEvent(client *whatsmeow.Client, evt interface{}, onEvent func(Event), log *zap.Logger) {
	switch v := evt.(type) {
	case *waEvents.Connected:
		endpoint := ""
		if client.Store.ID != nil {
			endpoint = client.Store.ID.String()
		}
		onEvent(Event{Kind: EventConnected, EndpointID: endpoint})
	case *waEvents.PairSuccess:
		log.Info("Pairing succeeded", zap.String("jid", v.ID.String()))
	case *waEvents.LoggedOut:
		onEvent(Event{Kind: EventDisconnected, Cause: CauseLoggedOut})
	case *waEvents.ConnectFailure:
		cause := CauseTransient
		if v.Reason.IsLoggedOut() {
			cause = CauseLoggedOut
		}
		onEvent(Event{Kind: EventDisconnected, Cause: cause})
	case *waEvents.StreamError:
		cause := CauseTransient
		if v.Code == "515" {
			cause = CauseRestartRequired
		}
		onEvent(Event{Kind: EventDisconnected, Cause: cause})
	case *waEvents.StreamReplaced:
		onEvent(Event{Kind: EventDisconnected, Cause: CauseTransient})
	case *waEvents.Disconnected:
		onEvent(Event{Kind: EventDisconnected, Cause: CauseTransient})
	case *waEvents.Message:
		onEvent(Event{Kind: EventMessage, Message: inboundFromMeow(v)})
	}
}

func inboundFromMeow(v *waEvents.Message) InboundMessage {
	msg := InboundMessage{
		ID:          string(v.Info.ID),
		ChatJID:     v.Info.Chat.String(),
		SenderJID:   v.Info.Sender.ToNonAD().String(),
		PushName:    v.Info.PushName,
		Type:        "TEXT",
		IsGroup:     v.Info.IsGroup,
		IsBroadcast: v.Info.Chat == types.StatusBroadcastJID,
		FromMe:      v.Info.IsFromMe,
		Timestamp:   v.Info.Timestamp,
	}

	m := v.Message
	switch {
	case m.GetConversation() != "":
		msg.Text = m.GetConversation()
	case m.GetExtendedTextMessage() != nil:
		msg.Text = m.GetExtendedTextMessage().GetText()
	case m.GetImageMessage() != nil:
		msg.Type = "IMAGE"
		msg.Text = m.GetImageMessage().GetCaption()
	case m.GetVideoMessage() != nil:
		msg.Type = "VIDEO"
		msg.Text = m.GetVideoMessage().GetCaption()
	default:
		msg.Type = "OTHER"
	}
	return msg
}

func mimeOr(mimeType, fallback string) string {
	if mimeType == "" {
		return fallback
	}
	return mimeType
}
