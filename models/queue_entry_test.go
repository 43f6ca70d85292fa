package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueStatusTransitions(t *testing.T) {
	t.Run("pending", func(t *testing.T) {
		assert.True(t, QueueStatusPending.CanTransitionTo(QueueStatusClaimed))
		assert.True(t, QueueStatusPending.CanTransitionTo(QueueStatusSkipped))
		assert.False(t, QueueStatusPending.CanTransitionTo(QueueStatusSent))
		assert.False(t, QueueStatusPending.CanTransitionTo(QueueStatusDelivered))
	})

	t.Run("claimed", func(t *testing.T) {
		assert.True(t, QueueStatusClaimed.CanTransitionTo(QueueStatusSent))
		assert.True(t, QueueStatusClaimed.CanTransitionTo(QueueStatusFailed))
		assert.True(t, QueueStatusClaimed.CanTransitionTo(QueueStatusPending))
		assert.False(t, QueueStatusClaimed.CanTransitionTo(QueueStatusSkipped))
	})

	t.Run("delivery progression is forward only", func(t *testing.T) {
		assert.True(t, QueueStatusSent.CanTransitionTo(QueueStatusDelivered))
		assert.True(t, QueueStatusSent.CanTransitionTo(QueueStatusRead))
		assert.True(t, QueueStatusSent.CanTransitionTo(QueueStatusReplied))
		assert.True(t, QueueStatusDelivered.CanTransitionTo(QueueStatusRead))
		assert.True(t, QueueStatusRead.CanTransitionTo(QueueStatusReplied))

		assert.False(t, QueueStatusDelivered.CanTransitionTo(QueueStatusDelivered))
		assert.False(t, QueueStatusRead.CanTransitionTo(QueueStatusDelivered))
		assert.False(t, QueueStatusRead.CanTransitionTo(QueueStatusSent))
	})

	t.Run("post-send failure allowed until terminal", func(t *testing.T) {
		assert.True(t, QueueStatusSent.CanTransitionTo(QueueStatusFailed))
		assert.True(t, QueueStatusDelivered.CanTransitionTo(QueueStatusFailed))
		assert.True(t, QueueStatusRead.CanTransitionTo(QueueStatusFailed))
	})

	t.Run("terminal states accept nothing", func(t *testing.T) {
		for _, s := range []QueueStatus{QueueStatusReplied, QueueStatusFailed, QueueStatusSkipped} {
			assert.True(t, s.Terminal())
			assert.False(t, s.CanTransitionTo(QueueStatusDelivered))
			assert.False(t, s.CanTransitionTo(QueueStatusPending))
		}
	})
}

func TestQueueStatusActive(t *testing.T) {
	assert.True(t, QueueStatusPending.Active())
	assert.True(t, QueueStatusClaimed.Active())
	assert.False(t, QueueStatusSent.Active())
	assert.False(t, QueueStatusSkipped.Active())
}

func TestNormalizeChannel(t *testing.T) {
	assert.Equal(t, ChannelLinkedInDM, NormalizeChannel("linkedin"))
	assert.Equal(t, ChannelEmail, NormalizeChannel("email"))
	assert.Equal(t, ChannelLinkedInConnect, NormalizeChannel("linkedin_connect"))
	assert.Equal(t, ChannelLinkedInInMail, NormalizeChannel("linkedin_inmail"))
	// Unknown channels default to email rather than failing the batch
	assert.Equal(t, ChannelEmail, NormalizeChannel("carrier_pigeon"))
}

func TestIdentityKeyFor(t *testing.T) {
	key := IdentityKeyFor("c1", "p1")
	assert.Equal(t, "c1:p1", key)
	assert.NotEqual(t, IdentityKeyFor("c1", "p2"), key)
}
