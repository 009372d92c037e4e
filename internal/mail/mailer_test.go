package mail

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

type fakeTransport struct {
	sent    []*mail.Msg
	sendErr error
	dialErr error
	closed  bool
}

func (f *fakeTransport) DialAndSendWithContext(_ context.Context, msgs ...*mail.Msg) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msgs...)
	return nil
}

func (f *fakeTransport) DialWithContext(context.Context) error { return f.dialErr }

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

var smtpConfig = Config{Host: "smtp.example.com", Port: 587, User: "noreply@example.com", Pass: "pw", FromName: "Pix2Land"}

func TestConfigured(t *testing.T) {
	assert.True(t, smtpConfig.Configured())
	assert.False(t, Config{Host: "smtp.example.com", User: "u"}.Configured())
	assert.False(t, Config{}.Configured())
}

func TestDevelopmentModeLogsInsteadOfSending(t *testing.T) {
	m, err := New(Config{}, zap.NewNop())
	require.NoError(t, err)

	res, err := m.SendVerificationEmail(context.Background(), "ada@example.com", "Ada", "https://verify")
	require.NoError(t, err)
	assert.Equal(t, ModeDevelopment, res.Mode)

	st := m.TestConfiguration(context.Background())
	assert.False(t, st.Configured)
	assert.Equal(t, ModeDevelopment, st.Mode)
}

func TestProductionSend(t *testing.T) {
	ft := &fakeTransport{}
	m := &Mailer{cfg: smtpConfig, client: ft, log: zap.NewNop()}

	res, err := m.SendVerificationEmail(context.Background(), "ada@example.com", "Ada", "https://verify")
	require.NoError(t, err)
	assert.Equal(t, ModeProduction, res.Mode)
	require.Len(t, ft.sent, 1)
	assert.Equal(t, []string{verificationSubject}, ft.sent[0].GetGenHeader(mail.HeaderSubject))
}

func TestProductionSendFailure(t *testing.T) {
	m := &Mailer{cfg: smtpConfig, client: &fakeTransport{sendErr: errors.New("refused")}, log: zap.NewNop()}

	_, err := m.SendVerificationEmail(context.Background(), "ada@example.com", "Ada", "https://verify")
	assert.ErrorContains(t, err, "refused")
}

func TestTestConfiguration(t *testing.T) {
	ft := &fakeTransport{}
	m := &Mailer{cfg: smtpConfig, client: ft, log: zap.NewNop()}

	st := m.TestConfiguration(context.Background())
	assert.True(t, st.Configured)
	assert.Equal(t, ModeProduction, st.Mode)
	assert.True(t, ft.closed)

	m.client = &fakeTransport{dialErr: errors.New("timeout")}
	st = m.TestConfiguration(context.Background())
	assert.False(t, st.Configured)
	assert.Contains(t, st.Message, "timeout")
}

func TestRenderVerificationEscapesName(t *testing.T) {
	body, err := renderVerification("<b>Ada</b>", "https://verify?oobCode=abc")
	require.NoError(t, err)
	assert.Contains(t, body, "&lt;b&gt;Ada&lt;/b&gt;")
	assert.Contains(t, body, `href="https://verify?oobCode=abc"`)
}

func TestRenderVerificationDoesNotDoubleEscape(t *testing.T) {
	body, err := renderVerification("Pat O&#x27;Brien &amp; Co", "https://verify")
	require.NoError(t, err)
	assert.Contains(t, body, "Pat O&#39;Brien &amp; Co")
	assert.NotContains(t, body, "&amp;#x27;")
	assert.NotContains(t, body, "&amp;amp;")
}
