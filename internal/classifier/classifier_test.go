package classifier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 10, 19, 18, 0, 0, 0, time.UTC)

type key struct {
	r      rune
	offset time.Duration
}

func feed(c *Classifier, keys []key) []Token {
	var out []Token
	for _, k := range keys {
		if tok, ok := c.Feed(KeyEvent{Key: k.r, At: base.Add(k.offset)}); ok {
			out = append(out, tok)
		}
	}
	return out
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func TestReaderBurstEmitsToken(t *testing.T) {
	c := New("1616594319", DefaultGap)
	toks := feed(c, []key{{'1', 0}, {'2', ms(10)}, {'3', ms(20)}, {'\r', ms(30)}})

	require.Len(t, toks, 1)
	assert.Equal(t, "123", toks[0].Credential)
	assert.Equal(t, Student, toks[0].Kind)
	assert.Equal(t, uint64(1), toks[0].Seq)
	assert.Equal(t, 0, c.Pending())
}

func TestGapBeforeLastDigitKeepsOnlyTail(t *testing.T) {
	c := New("", DefaultGap)
	toks := feed(c, []key{{'1', 0}, {'2', ms(10)}, {'3', ms(200)}, {'\n', ms(210)}})

	require.Len(t, toks, 1)
	assert.Equal(t, "3", toks[0].Credential)
}

func TestGapBeforeEnterDropsEverything(t *testing.T) {
	c := New("", DefaultGap)
	toks := feed(c, []key{{'1', 0}, {'2', ms(10)}, {'\n', ms(500)}})
	assert.Empty(t, toks)
}

func TestExactThresholdIsNotAGap(t *testing.T) {
	c := New("", DefaultGap)
	toks := feed(c, []key{{'4', 0}, {'2', ms(100)}, {'\n', ms(200)}})
	require.Len(t, toks, 1)
	assert.Equal(t, "42", toks[0].Credential)
}

func TestAdminCredentialIsTagged(t *testing.T) {
	c := New("99", DefaultGap)
	toks := feed(c, []key{
		{'9', 0}, {'9', ms(5)}, {'\n', ms(10)},
		{'9', ms(1000)}, {'8', ms(1005)}, {'\n', ms(1010)},
	})
	require.Len(t, toks, 2)
	assert.Equal(t, Admin, toks[0].Kind)
	assert.Equal(t, "admin", toks[0].Kind.String())
	assert.Equal(t, Student, toks[1].Kind)
	assert.Equal(t, "98", toks[1].Credential)
}

func TestEmptyEnterIgnored(t *testing.T) {
	c := New("", DefaultGap)
	assert.Empty(t, feed(c, []key{{'\n', 0}, {'\r', ms(1)}}))
}

func TestEditableFocusIgnored(t *testing.T) {
	c := New("", DefaultGap)
	for i, r := range "77\n" {
		_, ok := c.Feed(KeyEvent{Key: r, At: base.Add(ms(i)), Editable: true})
		assert.False(t, ok)
	}
	assert.Equal(t, 0, c.Pending())

	// Focus leaving the field does not resurrect the typed characters.
	toks := feed(c, []key{{'5', ms(3)}, {'\n', ms(4)}})
	require.Len(t, toks, 1)
	assert.Equal(t, "5", toks[0].Credential)
}

func TestNonPrintableKeysAreSkipped(t *testing.T) {
	c := New("", DefaultGap)
	toks := feed(c, []key{{'1', 0}, {'\t', ms(1)}, {0x1b, ms(2)}, {'2', ms(3)}, {'\n', ms(4)}})
	require.Len(t, toks, 1)
	assert.Equal(t, "12", toks[0].Credential)
}

func TestBackwardsTimestampsKeepArrivalOrder(t *testing.T) {
	c := New("", DefaultGap)
	toks := feed(c, []key{
		{'1', ms(50)}, {'2', ms(50)}, {'3', ms(40)}, {'\n', ms(50)},
		{'4', ms(50)}, {'\n', ms(50)},
	})
	require.Len(t, toks, 2)
	assert.Equal(t, "123", toks[0].Credential)
	assert.Equal(t, "4", toks[1].Credential)
	assert.Less(t, toks[0].Seq, toks[1].Seq)
}

func TestRunDiscardsPartialOnShutdown(t *testing.T) {
	c := New("", DefaultGap)
	in := make(chan KeyEvent)
	ctx, cancel := context.WithCancel(context.Background())
	out := c.Run(ctx, in)

	for i, r := range "12\n34" {
		in <- KeyEvent{Key: r, At: base.Add(ms(i))}
	}
	tok := <-out
	assert.Equal(t, "12", tok.Credential)

	cancel()
	_, open := <-out
	assert.False(t, open, "no partial token is emitted")
	assert.Equal(t, 0, c.Pending())
}

func TestRunStopsWhenInputCloses(t *testing.T) {
	c := New("", DefaultGap)
	in := make(chan KeyEvent, 4)
	in <- KeyEvent{Key: '9', At: base}
	close(in)

	out := c.Run(context.Background(), in)
	_, open := <-out
	assert.False(t, open)
}
