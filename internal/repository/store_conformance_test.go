package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"messenger/internal/domain"
	"messenger/internal/ids"
)

// runStoreConformance exercises the behaviour every Store backend must share.
// Ids are freshly minted so the suite can run against a shared cluster.
func runStoreConformance(t *testing.T, s Store) {
	t.Helper()
	gen := ids.NewGenerator()
	newID := func() string {
		id, err := gen.New(time.Now())
		require.NoError(t, err)
		return id
	}
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)
	userA := base.UnixNano()
	userB := userA + 1

	t.Run("claim is first writer wins", func(t *testing.T) {
		pair := domain.NewPair(userB, userA)
		_, err := s.GetConversationID(ctx, pair)
		require.ErrorIs(t, err, ErrNotFound)

		first := newID()
		winner, claimed, err := s.ClaimConversation(ctx, pair, first)
		require.NoError(t, err)
		require.True(t, claimed)
		require.Equal(t, first, winner)

		winner, claimed, err = s.ClaimConversation(ctx, pair, newID())
		require.NoError(t, err)
		require.False(t, claimed)
		require.Equal(t, first, winner)
	})

	t.Run("metadata advances forward only", func(t *testing.T) {
		cid := newID()
		require.NoError(t, s.CreateConversationMetadata(ctx, domain.ConversationMetadata{
			ConversationID: cid, User1ID: userB, User2ID: userA, CreatedAt: base, LastMessageAt: base,
		}))
		require.NoError(t, s.AdvanceConversationMetadata(ctx, domain.ConversationMetadata{
			ConversationID: cid, User1ID: userB, User2ID: userA,
			LastMessageAt: base.Add(2 * time.Second), LastMessageContent: "newer",
		}))
		require.NoError(t, s.AdvanceConversationMetadata(ctx, domain.ConversationMetadata{
			ConversationID: cid, User1ID: userB, User2ID: userA,
			LastMessageAt: base.Add(time.Second), LastMessageContent: "older",
		}))

		meta, err := s.GetConversationMetadata(ctx, cid)
		require.NoError(t, err)
		require.Equal(t, userB, meta.User1ID)
		require.Equal(t, userA, meta.User2ID)
		require.True(t, base.Equal(meta.CreatedAt))
		require.True(t, base.Add(2*time.Second).Equal(meta.LastMessageAt))
		require.Equal(t, "newer", meta.LastMessageContent)

		_, err = s.GetConversationMetadata(ctx, newID())
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("advance creates a missing row", func(t *testing.T) {
		cid := newID()
		require.NoError(t, s.AdvanceConversationMetadata(ctx, domain.ConversationMetadata{
			ConversationID: cid, User1ID: userA, User2ID: userB, LastMessageAt: base, LastMessageContent: "hi",
		}))
		meta, err := s.GetConversationMetadata(ctx, cid)
		require.NoError(t, err)
		require.Equal(t, "hi", meta.LastMessageContent)
		require.Equal(t, userA, meta.User1ID)
	})

	t.Run("messages scan newest first with exclusive bound", func(t *testing.T) {
		cid := newID()
		var want []string
		for i := 0; i < 3; i++ {
			mid := newID()
			want = append([]string{mid}, want...)
			require.NoError(t, s.InsertMessage(ctx, domain.Message{
				ConversationID: cid, MessageID: mid, SenderID: userA, ReceiverID: userB,
				Content: "héllo 👋", CreatedAt: base.Add(time.Duration(i) * time.Second),
			}))
		}

		scan := func(before time.Time) []domain.Message {
			var got []domain.Message
			require.NoError(t, s.ScanMessages(ctx, cid, before, func(m domain.Message) bool {
				got = append(got, m)
				return true
			}))
			return got
		}

		all := scan(time.Time{})
		require.Len(t, all, 3)
		for i, m := range all {
			require.Equal(t, want[i], m.MessageID)
			require.Equal(t, "héllo 👋", m.Content)
			require.Equal(t, cid, m.ConversationID)
		}

		older := scan(all[0].CreatedAt)
		require.Len(t, older, 2)
		require.Equal(t, want[1], older[0].MessageID)
		require.Empty(t, scan(all[2].CreatedAt))
	})

	t.Run("user conversation rows are returned raw", func(t *testing.T) {
		user := userA + 10
		cid := newID()
		for i, content := range []string{"one", "two"} {
			require.NoError(t, s.PutUserConversation(ctx, domain.ConversationSummary{
				UserID: user, ConversationID: cid, OtherUserID: userB,
				LastMessageAt: base.Add(time.Duration(i) * time.Second), LastMessageContent: content,
			}))
		}
		var rows []domain.ConversationSummary
		require.NoError(t, s.ScanUserConversations(ctx, user, func(r domain.ConversationSummary) bool {
			rows = append(rows, r)
			return true
		}))
		require.Len(t, rows, 2)
		require.Equal(t, "two", rows[0].LastMessageContent)
		require.Equal(t, userB, rows[0].OtherUserID)
	})
}
