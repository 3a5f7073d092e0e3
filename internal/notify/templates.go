package notify

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/qurrota/apiserver/types"
)

// Message is a rendered email.
type Message struct {
	Subject string
	HTML    string
	Text    string
}

type content struct {
	subject string
	heading string
	intro   string
	outro   string
}

var contents = map[types.NotificationKind]content{
	types.NotificationVerification: {
		subject: "Verify your Qurrota account",
		heading: "Welcome to Qurrota",
		intro:   "Thanks for signing up. Use the code below to verify your email address.",
		outro:   "If you did not create an account, you can ignore this email.",
	},
	types.NotificationVerificationResend: {
		subject: "Your Qurrota verification code",
		heading: "Your new verification code",
		intro:   "Here is a new code to verify your email address.",
		outro:   "If you did not request this code, you can ignore this email.",
	},
	types.NotificationPasswordReset: {
		subject: "Reset your Qurrota password",
		heading: "Password reset",
		intro:   "We received a request to reset your password. Use the code below to choose a new one.",
		outro:   "If you did not request a password reset, your password is unchanged and you can ignore this email.",
	},
}

var layout = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #2c3e50;">{{.Heading}}</h2>
  <p>Hello {{.Name}},</p>
  <p>{{.Intro}}</p>
  <div style="background: #f4f4f4; padding: 16px; text-align: center; font-size: 28px; letter-spacing: 6px; font-weight: bold;">{{.Code}}</div>
  <p>This code expires in {{.Minutes}} minutes.</p>
  <p style="color: #888; font-size: 12px;">{{.Outro}}</p>
  <p>The Qurrota Team</p>
</body>
</html>
`))

// Render builds the email for n. Unknown kinds are an error.
func Render(n types.Notification) (Message, error) {
	c, ok := contents[n.Kind]
	if !ok {
		return Message{}, fmt.Errorf("unknown notification kind %q", n.Kind)
	}

	name := n.Name
	if name == "" {
		name = "there"
	}
	minutes := int(n.ExpiresIn.Minutes())

	var buf bytes.Buffer
	err := layout.Execute(&buf, struct {
		Heading, Name, Intro, Code, Outro string
		Minutes                           int
	}{c.heading, name, c.intro, n.Code, c.outro, minutes})
	if err != nil {
		return Message{}, err
	}

	text := fmt.Sprintf("Hello %s,\n\n%s\n\n    %s\n\nThis code expires in %d minutes.\n\n%s\n\nThe Qurrota Team\n",
		name, c.intro, n.Code, minutes, c.outro)

	return Message{Subject: c.subject, HTML: buf.String(), Text: text}, nil
}
