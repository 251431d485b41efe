package chatclient

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func row(id string, class SenderClass, content string, minute int) Message {
	return Message{
		ID:             id,
		ConversationID: "conv-1",
		SenderClass:    class,
		SenderID:       string(class) + "-1",
		Content:        content,
		CreatedAt:      t0.Add(time.Duration(minute) * time.Minute),
	}
}

func ids(t *Timeline) []string {
	var out []string
	for _, e := range t.Snapshot() {
		out = append(out, e.Message.ID)
	}
	return out
}

func TestTimeline_PushConfirmsPlaceholderInPlace(t *testing.T) {
	tl := NewTimeline("conv-1", SenderPlayer)
	tl.Reset([]Message{row("m1", SenderProfessional, "hola", 0)})

	pending, err := tl.AddPending("me duele")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(pending.LocalID, LocalIDPrefix))
	assert.Equal(t, StatePending, pending.State)
	assert.Equal(t, pending.LocalID, pending.Message.ID)

	markRead := tl.ApplyInserted(row("m2", SenderPlayer, "me duele", 1))
	assert.False(t, markRead)

	entries := tl.Snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, StateConfirmed, entries[1].State)
	assert.Equal(t, "m2", entries[1].Message.ID)
	assert.Equal(t, pending.LocalID, entries[1].LocalID)

	// The send result arriving afterwards changes nothing.
	confirmed := row("m2", SenderPlayer, "me duele", 1)
	tl.ResolveSend(pending.LocalID, &confirmed, nil)
	assert.Equal(t, []string{"m1", "m2"}, ids(tl))
}

func TestTimeline_SendResultBeforePush(t *testing.T) {
	tl := NewTimeline("conv-1", SenderPlayer)
	pending, err := tl.AddPending("hola")
	require.NoError(t, err)

	confirmed := row("m1", SenderPlayer, "hola", 0)
	tl.ResolveSend(pending.LocalID, &confirmed, nil)
	tl.ApplyInserted(confirmed)

	assert.Equal(t, []string{"m1"}, ids(tl))
	assert.Equal(t, StateConfirmed, tl.Snapshot()[0].State)
}

func TestTimeline_DuplicatePushIsSuppressed(t *testing.T) {
	tl := NewTimeline("conv-1", SenderPlayer)

	m := row("m1", SenderProfessional, "¿cómo sigues?", 0)
	assert.True(t, tl.ApplyInserted(m))
	assert.False(t, tl.ApplyInserted(m), "second delivery must not ask for another mark-read")

	own := row("m2", SenderPlayer, "mejor", 1)
	tl.ApplyInserted(own)
	tl.ApplyInserted(own)

	assert.Equal(t, []string{"m1", "m2"}, ids(tl))
}

func TestTimeline_IdenticalContentSentTwice(t *testing.T) {
	tl := NewTimeline("conv-1", SenderPlayer)
	a, _ := tl.AddPending("ok")
	b, _ := tl.AddPending("ok")

	first := row("m1", SenderPlayer, "ok", 0)
	second := row("m2", SenderPlayer, "ok", 0)

	// The second send's push overtakes everything else.
	tl.ApplyInserted(second)
	tl.ResolveSend(a.LocalID, &first, nil)
	tl.ResolveSend(b.LocalID, &second, nil)
	tl.ApplyInserted(first)

	entries := tl.Snapshot()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, StateConfirmed, e.State)
	}
	assert.ElementsMatch(t, []string{"m1", "m2"}, ids(tl))
}

func TestTimeline_FailedSendCanBeRetried(t *testing.T) {
	tl := NewTimeline("conv-1", SenderPlayer)
	pending, _ := tl.AddPending("hola")

	_, ok := tl.Retry(pending.LocalID)
	assert.False(t, ok, "only failed entries can be retried")

	sendErr := errors.New("store unavailable")
	tl.ResolveSend(pending.LocalID, nil, sendErr)

	e := tl.Snapshot()[0]
	assert.Equal(t, StateFailed, e.State)
	assert.Equal(t, sendErr, e.Err)

	content, ok := tl.Retry(pending.LocalID)
	require.True(t, ok)
	assert.Equal(t, "hola", content)
	assert.Equal(t, StatePending, tl.Snapshot()[0].State)
	assert.Nil(t, tl.Snapshot()[0].Err)

	confirmed := row("m1", SenderPlayer, "hola", 0)
	tl.ResolveSend(pending.LocalID, &confirmed, nil)
	assert.Equal(t, []string{"m1"}, ids(tl))
}

func TestTimeline_PushConfirmsFailedSend(t *testing.T) {
	tl := NewTimeline("conv-1", SenderPlayer)
	pending, _ := tl.AddPending("hola")
	tl.ResolveSend(pending.LocalID, nil, errors.New("timeout"))

	// The row was stored even though the response never arrived.
	tl.ApplyInserted(row("m1", SenderPlayer, "hola", 0))

	entries := tl.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, StateConfirmed, entries[0].State)
	assert.Nil(t, entries[0].Err)
}

func TestTimeline_UnmatchedOwnRowIsAppended(t *testing.T) {
	tl := NewTimeline("conv-1", SenderProfessional)
	tl.AddPending("draft one")

	tl.ApplyInserted(row("m1", SenderProfessional, "sent from another device", 0))

	entries := tl.Snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, StatePending, entries[0].State)
	assert.Equal(t, "m1", entries[1].Message.ID)
}

func TestTimeline_ReadFlagNeverRegresses(t *testing.T) {
	tl := NewTimeline("conv-1", SenderPlayer)
	m := row("m1", SenderPlayer, "hola", 0)
	tl.ApplyInserted(m)

	read := m
	read.Read = true
	assert.True(t, tl.ApplyUpdated(read))
	assert.True(t, tl.Snapshot()[0].Message.Read)

	// A stale insert or update delivered late keeps the flag.
	assert.True(t, tl.ApplyUpdated(m))
	tl.ApplyInserted(m)
	assert.True(t, tl.Snapshot()[0].Message.Read)

	assert.False(t, tl.ApplyUpdated(row("unknown", SenderPlayer, "x", 0)))
}

func TestTimeline_PrependHistory(t *testing.T) {
	tl := NewTimeline("conv-1", SenderPlayer)
	tl.Reset([]Message{row("m3", SenderPlayer, "c", 3), row("m4", SenderProfessional, "d", 4)})

	added := tl.PrependHistory([]Message{
		row("m1", SenderPlayer, "a", 1),
		row("m2", SenderProfessional, "b", 2),
		row("m3", SenderPlayer, "c", 3),
	})
	assert.Equal(t, 2, added)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, ids(tl))
	assert.Equal(t, 4, tl.Len())
}

func TestTimeline_ResetKeepsUnconfirmedEntries(t *testing.T) {
	tl := NewTimeline("conv-1", SenderPlayer)
	tl.ApplyInserted(row("m1", SenderProfessional, "old", 0))
	pending, _ := tl.AddPending("still sending")

	tl.Reset([]Message{row("m1", SenderProfessional, "old", 0), row("m2", SenderProfessional, "new", 1)})

	entries := tl.Snapshot()
	require.Len(t, entries, 3)
	assert.Equal(t, "m2", entries[1].Message.ID)
	assert.Equal(t, pending.LocalID, entries[2].LocalID)
}
