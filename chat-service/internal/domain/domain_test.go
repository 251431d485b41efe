package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSenderClass(t *testing.T) {
	assert.True(t, SenderPlayer.Valid())
	assert.True(t, SenderProfessional.Valid())
	assert.False(t, SenderClass("coach").Valid())

	assert.Equal(t, SenderProfessional, SenderPlayer.Counterpart())
	assert.Equal(t, SenderPlayer, SenderProfessional.Counterpart())
}

func TestFoldName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Juan Pérez", "juan perez"},
		{"  ANA GÓMEZ ", "ana gomez"},
		{"Müller", "muller"},
		{"Íñigo", "inigo"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FoldName(tt.in), tt.in)
	}
}

func TestConversation_Allows(t *testing.T) {
	pro := "pro-1"
	assigned := &Conversation{PlayerID: "p1", Area: "medical", ProfessionalID: &pro}
	open := &Conversation{PlayerID: "p1", Area: "medical"}

	tests := []struct {
		name string
		conv *Conversation
		p    Participant
		want bool
	}{
		{"owner player", open, Participant{ID: "p1", Class: SenderPlayer}, true},
		{"other player", open, Participant{ID: "p2", Class: SenderPlayer}, false},
		{"assigned professional", assigned, Participant{ID: "pro-1", Class: SenderProfessional, Area: "medical"}, true},
		{"other professional on assigned", assigned, Participant{ID: "pro-2", Class: SenderProfessional, Area: "medical"}, false},
		{"professional in area on unassigned", open, Participant{ID: "pro-2", Class: SenderProfessional, Area: "medical"}, true},
		{"professional area differs in case", open, Participant{ID: "pro-2", Class: SenderProfessional, Area: " Medical"}, true},
		{"professional in other area", open, Participant{ID: "pro-2", Class: SenderProfessional, Area: "physio"}, false},
		{"professional id matching player id", open, Participant{ID: "p1", Class: SenderProfessional}, false},
		{"unknown class", open, Participant{ID: "p1", Class: "coach"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.conv.Allows(tt.p))
		})
	}
}

func TestConversationMapping(t *testing.T) {
	pro := "pro-1"
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	conv := &Conversation{
		ID:               "c1",
		PlayerID:         "p1",
		PlayerName:       "Juan Pérez",
		ProfessionalID:   &pro,
		ProfessionalName: "Ana Gómez",
		Area:             "medical",
		LastMessageAt:    now,
		CreatedAt:        now,
	}

	model := ConversationToModel(conv)
	assert.Equal(t, "juan perez", model.PlayerNameFolded)
	assert.Equal(t, "ana gomez", model.ProfessionalNameFolded)

	back := model.ToDomain()
	assert.Equal(t, conv, back)
	assert.NotSame(t, conv.ProfessionalID, back.ProfessionalID)

	assert.Equal(t, "Ana Gómez", back.CounterpartName(SenderPlayer))
	assert.Equal(t, "Juan Pérez", back.CounterpartName(SenderProfessional))
}
