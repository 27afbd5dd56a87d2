package mode

import (
	"testing"

	"github.com/rbright/parley/internal/conversation"
	"github.com/stretchr/testify/require"
)

func TestProfilesCoverEveryMode(t *testing.T) {
	var sel Selector
	got := sel.Profiles()
	require.Len(t, got, 3)
	require.Equal(t, conversation.ModePractice, got[0].Mode)
	require.Equal(t, conversation.ModeInterview, got[1].Mode)
	require.Equal(t, conversation.ModePresentation, got[2].Mode)

	got[0].Title = "mutated"
	require.Equal(t, "Casual Practice", sel.Profiles()[0].Title)
}

func TestResolve(t *testing.T) {
	var sel Selector

	p, err := sel.Resolve("interview")
	require.NoError(t, err)
	require.Equal(t, "Mock interview practice with professional questions", p.Description)
	require.Equal(t, "interview", p.WireName)

	_, err = sel.Resolve("karaoke")
	require.Error(t, err)
}

func TestWireNameFallsBackToPractice(t *testing.T) {
	var sel Selector
	require.Equal(t, "presentation", sel.WireName(conversation.ModePresentation))
	require.Equal(t, "practice", sel.WireName(conversation.Mode("unknown")))
}
