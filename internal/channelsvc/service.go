// Package channelsvc owns channel and message state. It is the only
// component that emits channel.* events; every message creation path
// funnels through Service.SendMessage.
package channelsvc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nugget/minionfabric/internal/coremodel"
	"github.com/nugget/minionfabric/internal/eventbus"
	"github.com/nugget/minionfabric/internal/repo"
)

// ErrValidation is returned for bad input at the public API: a
// duplicate channel id, a non-member sender, empty content, and so
// on.
type ErrValidation struct {
	Reason string
}

func (e ErrValidation) Error() string { return fmt.Sprintf("channelsvc: %s", e.Reason) }

// ErrNotFound is returned when a referenced channel does not exist.
type ErrNotFound struct {
	ChannelID string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("channelsvc: channel %q not found", e.ChannelID)
}

// ErrPermission is returned when a caller lacks the role required for
// the operation (e.g. adding members to a private channel).
type ErrPermission struct {
	Reason string
}

func (e ErrPermission) Error() string { return fmt.Sprintf("channelsvc: %s", e.Reason) }

const (
	flushInterval   = 5 * time.Second
	cleanupInterval = time.Hour
	directChannelTTL = 7 * 24 * time.Hour
)

// Service is the authoritative owner of the channel cache and message
// buffer. External reads go through its methods; nothing outside this
// package mutates a Channel or Message directly.
type Service struct {
	log    *slog.Logger
	bus    *eventbus.Bus
	chans  repo.ChannelRepository
	msgs   repo.MessageRepository
	now    func() time.Time

	mu       sync.RWMutex
	cache    map[string]coremodel.Channel
	buffer   []coremodel.Message
	bufferMu sync.Mutex

	cron *cron.Cron
}

// New constructs a Service. Default public channels are not created
// here; call EnsureDefaultChannels once repositories are wired.
func New(log *slog.Logger, bus *eventbus.Bus, chans repo.ChannelRepository, msgs repo.MessageRepository) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		log:   log,
		bus:   bus,
		chans: chans,
		msgs:  msgs,
		now:   time.Now,
		cache: make(map[string]coremodel.Channel),
	}
}

// Start loads active channels into the cache and launches the
// background persistence-flush and direct-channel-cleanup loops.
func (s *Service) Start(ctx context.Context) error {
	active, err := s.chans.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("channelsvc: load active channels: %w", err)
	}
	s.mu.Lock()
	for _, c := range active {
		s.cache[c.ID] = c
	}
	s.mu.Unlock()

	if err := s.EnsureDefaultChannels(ctx, "system"); err != nil {
		return err
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", flushInterval), func() { s.flushBuffer(ctx) }); err != nil {
		return fmt.Errorf("channelsvc: schedule flush: %w", err)
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", cleanupInterval), func() { s.cleanupDirectChannels(ctx) }); err != nil {
		return fmt.Errorf("channelsvc: schedule cleanup: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop flushes any buffered messages and halts the background loops.
func (s *Service) Stop(ctx context.Context) {
	if s.cron != nil {
		c := s.cron.Stop()
		<-c.Done()
	}
	s.flushBuffer(ctx)
}

// EnsureDefaultChannels creates the always-present public channels if
// they don't already exist.
func (s *Service) EnsureDefaultChannels(ctx context.Context, createdBy string) error {
	for name := range coremodel.DefaultChannelNames {
		s.mu.RLock()
		exists := false
		for _, c := range s.cache {
			if c.Name == name {
				exists = true
				break
			}
		}
		s.mu.RUnlock()
		if exists {
			continue
		}
		if _, err := s.CreateChannel(ctx, name, name, coremodel.ChannelPublic, "", createdBy, nil); err != nil {
			if _, dup := err.(ErrValidation); !dup {
				return err
			}
		}
	}
	return nil
}

// CreateChannel rejects a duplicate id and, for default names, a
// duplicate creation attempt. On success it emits channel.created.
func (s *Service) CreateChannel(ctx context.Context, id, name string, typ coremodel.ChannelType, description, creator string, metadata map[string]any) (coremodel.Channel, error) {
	s.mu.Lock()
	if _, exists := s.cache[id]; exists {
		s.mu.Unlock()
		return coremodel.Channel{}, ErrValidation{Reason: fmt.Sprintf("channel id %q already exists", id)}
	}
	for _, c := range s.cache {
		if c.Name == name && coremodel.IsDefaultChannelName(name) {
			s.mu.Unlock()
			return coremodel.Channel{}, ErrValidation{Reason: fmt.Sprintf("default channel %q already exists", name)}
		}
	}
	now := s.now()
	c := coremodel.Channel{
		ID:           id,
		Name:         name,
		Type:         typ,
		Description:  description,
		CreatedAt:    now,
		CreatedBy:    creator,
		LastActivity: now,
		Metadata:     metadata,
	}
	s.cache[id] = c
	s.mu.Unlock()

	if err := s.chans.Save(ctx, c); err != nil {
		s.log.Error("channelsvc: persist channel failed", "channel_id", id, "error", err)
	}

	s.emitChannelEvent(coremodel.EventChannelCreated, c, nil)
	return c.Copy(), nil
}

// GetChannel returns a copy of the cached channel.
func (s *Service) GetChannel(channelID string) (coremodel.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cache[channelID]
	if !ok {
		return coremodel.Channel{}, ErrNotFound{ChannelID: channelID}
	}
	return c.Copy(), nil
}

// ListChannels returns copies of every cached channel.
func (s *Service) ListChannels() []coremodel.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]coremodel.Channel, 0, len(s.cache))
	for _, c := range s.cache {
		out = append(out, c.Copy())
	}
	return out
}

// AddMember rejects duplicate membership; on private channels a
// non-empty addedBy must hold add_members permission (an empty addedBy
// is a system add and skips the check). Emits channel.member_added
// then a system message through SendMessage.
func (s *Service) AddMember(ctx context.Context, channelID, memberID string, role coremodel.MemberRole, addedBy string) (coremodel.Channel, error) {
	if role == "" {
		role = coremodel.RoleMember
	}
	s.mu.Lock()
	c, ok := s.cache[channelID]
	if !ok {
		s.mu.Unlock()
		return coremodel.Channel{}, ErrNotFound{ChannelID: channelID}
	}
	if c.HasMember(memberID) {
		s.mu.Unlock()
		return coremodel.Channel{}, coremodel.ErrDuplicateMember{ChannelID: channelID, MemberID: memberID}
	}
	if c.Type == coremodel.ChannelPrivate && addedBy != "" {
		if r, found := c.MemberRoleOf(addedBy); !found || !r.CanAddMembers() {
			s.mu.Unlock()
			return coremodel.Channel{}, ErrPermission{Reason: fmt.Sprintf("%q may not add members to private channel %q", addedBy, channelID)}
		}
	}
	c.Members = append(c.Members, coremodel.ChannelMember{
		MemberID: memberID,
		Role:     role,
		JoinedAt: s.now(),
		AddedBy:  addedBy,
	})
	s.cache[channelID] = c
	s.mu.Unlock()

	if err := s.chans.Save(ctx, c); err != nil {
		s.log.Error("channelsvc: persist channel failed", "channel_id", channelID, "error", err)
	}

	s.emitChannelEvent(coremodel.EventChannelMemberAdded, c, map[string]any{"member_id": memberID})

	if _, err := s.SendMessage(ctx, channelID, "system", fmt.Sprintf("%s joined the channel", memberID), coremodel.MessageSystem, map[string]any{"event": "member_joined"}, ""); err != nil {
		s.log.Error("channelsvc: system join message failed", "channel_id", channelID, "error", err)
	}
	return c.Copy(), nil
}

// RemoveMember emits channel.member_removed and a symmetric system
// message.
func (s *Service) RemoveMember(ctx context.Context, channelID, memberID, removedBy string) (coremodel.Channel, error) {
	s.mu.Lock()
	c, ok := s.cache[channelID]
	if !ok {
		s.mu.Unlock()
		return coremodel.Channel{}, ErrNotFound{ChannelID: channelID}
	}
	idx := -1
	for i, m := range c.Members {
		if m.MemberID == memberID {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.mu.Unlock()
		return coremodel.Channel{}, ErrValidation{Reason: fmt.Sprintf("%q is not a member of %q", memberID, channelID)}
	}
	c.Members = append(c.Members[:idx:idx], c.Members[idx+1:]...)
	s.cache[channelID] = c
	s.mu.Unlock()

	if err := s.chans.Save(ctx, c); err != nil {
		s.log.Error("channelsvc: persist channel failed", "channel_id", channelID, "error", err)
	}

	s.emitChannelEvent(coremodel.EventChannelMemberRemove, c, map[string]any{"member_id": memberID})

	if _, err := s.SendMessage(ctx, channelID, "system", fmt.Sprintf("%s left the channel", memberID), coremodel.MessageSystem, map[string]any{"event": "member_left"}, ""); err != nil {
		s.log.Error("channelsvc: system leave message failed", "channel_id", channelID, "error", err)
	}
	return c.Copy(), nil
}

// SendMessage is the single write-path for messages: it creates the
// message, appends it to the buffer, updates channel activity, and
// emits exactly one channel.message event.
func (s *Service) SendMessage(ctx context.Context, channelID, senderID, content string, typ coremodel.MessageType, metadata map[string]any, parentID string) (coremodel.Message, error) {
	if content == "" {
		return coremodel.Message{}, ErrValidation{Reason: "message content must not be empty"}
	}
	if typ == "" {
		typ = coremodel.MessageChat
	}

	s.mu.Lock()
	c, ok := s.cache[channelID]
	if !ok {
		s.mu.Unlock()
		return coremodel.Message{}, ErrNotFound{ChannelID: channelID}
	}
	if c.Type != coremodel.ChannelPublic && senderID != "system" && !c.HasMember(senderID) {
		s.mu.Unlock()
		return coremodel.Message{}, ErrValidation{Reason: fmt.Sprintf("%q is not a member of channel %q", senderID, channelID)}
	}
	now := s.now()
	msg := coremodel.Message{
		ID:              coremodel.NewMessageID(),
		ChannelID:       channelID,
		SenderID:        senderID,
		Content:         content,
		Type:            typ,
		Timestamp:       now,
		Metadata:        metadata,
		ParentMessageID: parentID,
	}
	c.MessageCount++
	c.LastActivity = now
	s.cache[channelID] = c
	s.mu.Unlock()

	s.bufferMu.Lock()
	s.buffer = append(s.buffer, msg)
	s.bufferMu.Unlock()

	if _, err := s.bus.EmitChannelMessage(channelID, senderID, content, msg.ID, "channelsvc", metadata); err != nil {
		s.log.Warn("channelsvc: emit channel.message failed", "channel_id", channelID, "error", err)
	}
	return msg.Copy(), nil
}

// GetMessages combines persisted messages and the in-memory buffer,
// sorted by timestamp descending, limited to limit.
func (s *Service) GetMessages(ctx context.Context, channelID string, limit, offset int) (messages []coremodel.Message, total int, hasMore bool, err error) {
	persisted, err := s.msgs.GetChannelMessages(ctx, channelID, 0, nil, nil, "")
	if err != nil {
		return nil, 0, false, fmt.Errorf("channelsvc: load persisted messages: %w", err)
	}

	s.bufferMu.Lock()
	var buffered []coremodel.Message
	for _, m := range s.buffer {
		if m.ChannelID == channelID {
			buffered = append(buffered, m.Copy())
		}
	}
	s.bufferMu.Unlock()

	seen := make(map[string]struct{}, len(persisted))
	all := make([]coremodel.Message, 0, len(persisted)+len(buffered))
	for _, m := range buffered {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		all = append(all, m)
	}
	for _, m := range persisted {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		all = append(all, m)
	}

	sortMessagesDescending(all)

	total = len(all)
	if offset > 0 && offset < len(all) {
		all = all[offset:]
	} else if offset >= len(all) {
		all = nil
	}
	if limit > 0 && limit < len(all) {
		return all[:limit], total, true, nil
	}
	return all, total, false, nil
}

func sortMessagesDescending(msgs []coremodel.Message) {
	for i := 1; i < len(msgs); i++ {
		for j := i; j > 0 && msgs[j].Timestamp.After(msgs[j-1].Timestamp); j-- {
			msgs[j], msgs[j-1] = msgs[j-1], msgs[j]
		}
	}
}

// DeleteChannel soft-deletes a non-default channel.
func (s *Service) DeleteChannel(ctx context.Context, channelID string) error {
	s.mu.Lock()
	c, ok := s.cache[channelID]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound{ChannelID: channelID}
	}
	if coremodel.IsDefaultChannelName(c.Name) {
		s.mu.Unlock()
		return coremodel.ErrDefaultChannel{Name: c.Name}
	}
	c.Deleted = true
	s.cache[channelID] = c
	s.mu.Unlock()

	if err := s.chans.Save(ctx, c); err != nil {
		s.log.Error("channelsvc: persist channel failed", "channel_id", channelID, "error", err)
	}
	s.emitChannelEvent(coremodel.EventChannelDeleted, c, nil)
	return nil
}

func (s *Service) emitChannelEvent(t coremodel.EventType, c coremodel.Channel, extra map[string]any) {
	data := map[string]any{
		"channel_id": c.ID,
		"name":       c.Name,
		"type":       string(c.Type),
	}
	for k, v := range extra {
		data[k] = v
	}
	if _, err := s.bus.Emit(t, data, nil, "channelsvc"); err != nil {
		s.log.Warn("channelsvc: emit channel event failed", "type", t, "channel_id", c.ID, "error", err)
	}
}

// flushBuffer atomically drains the buffer and persists each message.
// Persistence failures are logged and the message is not re-queued
// (at-most-once durability).
func (s *Service) flushBuffer(ctx context.Context) {
	s.bufferMu.Lock()
	drained := s.buffer
	s.buffer = nil
	s.bufferMu.Unlock()

	for _, m := range drained {
		if err := s.msgs.Save(ctx, m); err != nil {
			s.log.Error("channelsvc: persist message failed", "message_id", m.ID, "error", err)
		}
	}
}

// cleanupDirectChannels soft-deletes empty direct channels older than
// directChannelTTL.
func (s *Service) cleanupDirectChannels(ctx context.Context) {
	cutoff := s.now().Add(-directChannelTTL)
	s.mu.Lock()
	var toDelete []string
	for id, c := range s.cache {
		if c.Type == coremodel.ChannelDirect && !c.Deleted && c.MessageCount == 0 && c.CreatedAt.Before(cutoff) {
			toDelete = append(toDelete, id)
		}
	}
	s.mu.Unlock()

	for _, id := range toDelete {
		if err := s.DeleteChannel(ctx, id); err != nil {
			s.log.Error("channelsvc: cleanup delete failed", "channel_id", id, "error", err)
		}
	}
}
