package notify

import (
	"fmt"
	"html"

	"volunteerhub/internal/model"
)

const layout = `<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8" />
<style>
  body { font-family: Arial, sans-serif; background: #f6f7fb; color: #1f2937; }
  .card { max-width: 600px; margin: 24px auto; background: #ffffff; border-radius: 12px; border: 1px solid #e5e7eb; }
  .header { background: #0f172a; color: #ffffff; padding: 16px 20px; font-size: 16px; font-weight: bold; }
  .content { padding: 20px; line-height: 1.6; }
  .quote { border-left: 3px solid #22c55e; padding-left: 12px; color: #4b5563; }
  .footer { margin-top: 20px; font-size: 12px; color: #6b7280; }
</style>
</head>
<body>
  <div class="card">
    <div class="header">%s</div>
    <div class="content">%s
      <div class="footer">VolunteerHub</div>
    </div>
  </div>
</body>
</html>`

func render(title, content string) string {
	return fmt.Sprintf(layout, html.EscapeString(title), content)
}

// ApplicationReceived 通知机构有新的申请。
func ApplicationReceived(org *model.User, volunteer *model.User, opp *model.Opportunity, message string) Message {
	subject := "[VolunteerHub] New application: " + opp.Title
	content := fmt.Sprintf(`
      <p>Hello %s,</p>
      <p><b>%s</b> applied to <b>%s</b>.</p>`,
		html.EscapeString(displayName(org)),
		html.EscapeString(displayName(volunteer)),
		html.EscapeString(opp.Title))
	if message != "" {
		content += fmt.Sprintf(`
      <p class="quote">%s</p>`, html.EscapeString(message))
	}
	return Message{
		To:      org.Email,
		Subject: subject,
		Body:    render(subject, content),
	}
}

// ApplicationDecided 通知志愿者申请被接受或拒绝。
func ApplicationDecided(app *model.Application, volunteer *model.User, opp *model.Opportunity) Message {
	subject := fmt.Sprintf("[VolunteerHub] Application %s: %s", app.Status, opp.Title)
	content := fmt.Sprintf(`
      <p>Hello %s,</p>
      <p>Your application to <b>%s</b> has been <b>%s</b>.</p>`,
		html.EscapeString(displayName(volunteer)),
		html.EscapeString(opp.Title),
		html.EscapeString(string(app.Status)))
	return Message{
		To:       volunteer.Email,
		Subject:  subject,
		Body:     render(subject, content),
		DedupKey: fmt.Sprintf("application:%d:%s", app.ID, app.Status),
	}
}

// OrganizationModerated 通知机构审核结果。
func OrganizationModerated(org *model.User, status model.ModerationStatus) Message {
	subject := fmt.Sprintf("[VolunteerHub] Organization %s", status)
	content := fmt.Sprintf(`
      <p>Hello %s,</p>
      <p>Your organization account is now <b>%s</b>.</p>`,
		html.EscapeString(displayName(org)),
		html.EscapeString(string(status)))
	return Message{
		To:       org.Email,
		Subject:  subject,
		Body:     render(subject, content),
		DedupKey: fmt.Sprintf("organization:%d:%s", org.ID, status),
	}
}

// OpportunityReviewed 通知机构机会的审核结果。
func OpportunityReviewed(org *model.User, opp *model.Opportunity) Message {
	subject := fmt.Sprintf("[VolunteerHub] Opportunity %s: %s", opp.Status, opp.Title)
	content := fmt.Sprintf(`
      <p>Hello %s,</p>
      <p>Your opportunity <b>%s</b> is now <b>%s</b>.</p>`,
		html.EscapeString(displayName(org)),
		html.EscapeString(opp.Title),
		html.EscapeString(string(opp.Status)))
	return Message{
		To:       org.Email,
		Subject:  subject,
		Body:     render(subject, content),
		DedupKey: fmt.Sprintf("opportunity:%d:%s", opp.ID, opp.Status),
	}
}

func displayName(u *model.User) string {
	if u == nil {
		return ""
	}
	if u.OrgName != "" {
		return u.OrgName
	}
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
