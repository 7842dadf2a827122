package email

import (
	"embed"
	"fmt"
	"html"
	"strings"

	"facilitator-backend/internal/metrics"
	"facilitator-backend/internal/models"

	"github.com/labstack/echo/v4"
	resend "github.com/resend/resend-go/v2"
)

//go:embed templates/*.html
var templates embed.FS

// EmailClient is an interface for sending emails
type EmailClient interface {
	SendAsync(toEmail, subject, htmlBody string)
	SendWelcomeEmail(user *models.User)
	SendTeamInvitationEmail(inviterName string, team *models.Team, inviteLink, toEmail string)
	SendTeamRemovalEmail(user *models.User, teamName string)
	SendReviewRequestEmail(toEmail, senderName string, req *models.FeedbackRequest, reviewLink, deadline string)
}

// ResendEmailClient implements EmailClient using the Resend service
type ResendEmailClient struct {
	client        *resend.Client
	defaultSender string
	logger        echo.Logger
}

// NewResendEmailClient creates a new ResendEmailClient
func NewResendEmailClient(client *resend.Client, defaultSender string, logger echo.Logger) *ResendEmailClient {
	return &ResendEmailClient{
		client:        client,
		defaultSender: defaultSender,
		logger:        logger,
	}
}

// SendAsync sends an email asynchronously
func (c *ResendEmailClient) SendAsync(toEmail, subject, htmlBody string) {
	if c == nil || c.client == nil {
		if c != nil && c.logger != nil {
			c.logger.Warn("Resend client not initialized, skipping email.")
		}
		return
	}

	if c.defaultSender == "" {
		c.logger.Errorf("Resend default sender not configured, skipping email.")
		return
	}

	go func() {
		params := &resend.SendEmailRequest{
			From:    c.defaultSender,
			To:      []string{toEmail},
			Subject: subject,
			Html:    htmlBody,
		}

		_, err := c.client.Emails.Send(params)
		metrics.NotificationsSent.WithLabelValues("email", metrics.Outcome(err)).Inc()
		if err != nil {
			c.logger.Errorf("Failed to send email to %s (Subject: %s): %v", toEmail, subject, err)
		} else {
			c.logger.Infof("Email sent successfully to %s (Subject: %s)", toEmail, subject)
		}
	}()
}

// render fills a template's {placeholders}. Values are HTML escaped.
func render(name string, values ...string) (string, error) {
	b, err := templates.ReadFile("templates/" + name)
	if err != nil {
		return "", err
	}
	for i := 1; i < len(values); i += 2 {
		values[i] = html.EscapeString(values[i])
	}
	return strings.NewReplacer(values...).Replace(string(b)), nil
}

// SendWelcomeEmail greets a user on first sign in
func (c *ResendEmailClient) SendWelcomeEmail(user *models.User) {
	if user == nil {
		c.logger.Error("Cannot send welcome email to nil user")
		return
	}

	htmlBody, err := render("welcome.html", "{name}", user.GetDisplayName())
	if err != nil {
		c.logger.Errorf("Failed to read welcome email template: %v", err)
		return
	}

	c.SendAsync(user.Email, "Welcome to Facilitator, "+user.GetDisplayName(), htmlBody)
}

// SendTeamInvitationEmail sends an invitation email to join a team
func (c *ResendEmailClient) SendTeamInvitationEmail(inviterName string, team *models.Team, inviteLink, toEmail string) {
	if team == nil || toEmail == "" {
		c.logger.Error("Cannot send team invitation without a team or recipient")
		return
	}

	htmlBody, err := InvitationBody(inviterName, team, inviteLink)
	if err != nil {
		c.logger.Errorf("Failed to read team invitation email template: %v", err)
		return
	}

	subject := fmt.Sprintf("%s has invited you to join the %s team", inviterName, team.Name)
	c.SendAsync(toEmail, subject, htmlBody)
}

// InvitationBody renders the team invitation email.
func InvitationBody(inviterName string, team *models.Team, inviteLink string) (string, error) {
	return render("invite-teammate.html",
		"{inviter_name}", inviterName,
		"{team_name}", team.Name,
		"{invite_url}", inviteLink,
		"{invite_code}", team.InviteCode,
	)
}

// SendTeamRemovalEmail tells a user they were removed from a team
func (c *ResendEmailClient) SendTeamRemovalEmail(user *models.User, teamName string) {
	if user == nil {
		c.logger.Error("Cannot send team removal email to nil user")
		return
	}

	htmlBody, err := render("team-removed.html", "{name}", user.GetDisplayName(), "{team_name}", teamName)
	if err != nil {
		c.logger.Errorf("Failed to read team removal email template: %v", err)
		return
	}

	c.SendAsync(user.Email, fmt.Sprintf("You've been removed from %s", teamName), htmlBody)
}

// SendReviewRequestEmail sends a review link to one reviewer
func (c *ResendEmailClient) SendReviewRequestEmail(toEmail, senderName string, req *models.FeedbackRequest, reviewLink, deadline string) {
	if req == nil || toEmail == "" {
		c.logger.Error("Cannot send review request without a request or recipient")
		return
	}

	htmlBody, err := ReviewRequestBody(senderName, req, reviewLink, deadline)
	if err != nil {
		c.logger.Errorf("Failed to read review request email template: %v", err)
		return
	}

	c.SendAsync(toEmail, fmt.Sprintf("%s is requesting feedback on %s", senderName, req.Title), htmlBody)
}

// ReviewRequestBody renders the review request email. Focus and skip hints
// are only included when set.
func ReviewRequestBody(senderName string, req *models.FeedbackRequest, reviewLink, deadline string) (string, error) {
	var hints []string
	if req.FocusOn != "" {
		hints = append(hints, "<p><strong>Focus on:</strong> "+html.EscapeString(req.FocusOn)+"</p>")
	}
	if req.IgnoreNote != "" {
		hints = append(hints, "<p><strong>Skip:</strong> "+html.EscapeString(req.IgnoreNote)+"</p>")
	}

	body, err := render("review-request.html",
		"{title}", req.Title,
		"{sender_name}", senderName,
		"{deadline}", deadline,
		"{review_url}", reviewLink,
	)
	if err != nil {
		return "", err
	}
	return strings.Replace(body, "{hints}", strings.Join(hints, "\n    "), 1), nil
}
