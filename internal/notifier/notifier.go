// Package notifier turns committee events into queued emails.
package notifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/consentdac/backend/internal/models"
	"github.com/consentdac/backend/pkg/queue"
)

// LogStore records each outgoing email.
type LogStore interface {
	Insert(ctx context.Context, el *models.EmailLog) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status, errMsg string) error
}

// Enqueuer hands an email to the worker.
type Enqueuer interface {
	EnqueueEmail(ctx context.Context, payload queue.EmailPayload) error
}

const (
	subjectDelegated   = "You have been assigned new responsibilities"
	subjectNewCase     = "New case to review: %s %s"
	subjectReminder    = "Reminder: your vote on %s %s is pending"
	subjectDARCanceled = "Data access request %s was cancelled"
)

var templates = template.Must(template.New("mail").Parse(`
{{define "delegated"}}<html><body>
<p>Hello {{.Name}},</p>
<p>You now hold the {{.Role}} responsibilities previously held by another committee user.
{{- if .Elections}} You have {{.VoteCount}} pending vote{{if ne .VoteCount 1}}s{{end}} on the following elections:{{end}}</p>
{{- if .Elections}}
<ul>{{range .Elections}}<li>Election {{.}}</li>{{end}}</ul>
{{- end}}
<p><a href="{{.ConsoleURL}}">Open your console</a></p>
</body></html>{{end}}
{{define "new_case"}}<html><body>
<p>Hello {{.Name}},</p>
<p>A new {{.ElectionType}} case, {{.Reference}}, is open and waits for your vote.</p>
<p><a href="{{.ConsoleURL}}">Open your console</a></p>
</body></html>{{end}}
{{define "reminder"}}<html><body>
<p>Hello {{.Name}},</p>
<p>Your vote on the {{.ElectionType}} case {{.Reference}} has not been logged yet.</p>
<p><a href="{{.ConsoleURL}}">Vote now</a></p>
</body></html>{{end}}
{{define "dar_canceled"}}<html><body>
<p>Hello {{.Name}},</p>
<p>Data access request {{.Reference}} was cancelled by its requester or an administrator. Its open elections are closed and no vote is needed.</p>
<p><a href="{{.ConsoleURL}}">Open your console</a></p>
</body></html>{{end}}`))

type mailView struct {
	Name         string
	Role         string
	VoteCount    int
	Elections    []int64
	ElectionType string
	Reference    string
	ConsoleURL   string
}

type message struct {
	emailType  string
	subject    string
	body       string
	electionID *int64
}

// Notifier implements roles.NotificationSink and sends the election and
// request notices.
type Notifier struct {
	logs      LogStore
	queue     Enqueuer
	serverURL string
	logger    *zap.Logger
}

// New creates a Notifier. serverURL is the console's base URL.
func New(logs LogStore, q Enqueuer, serverURL string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{logs: logs, queue: q, serverURL: serverURL, logger: logger}
}

// ConsolePath returns the console page a user works from for role.
func ConsolePath(role models.Role) string {
	switch role {
	case models.RoleChairperson:
		return "chair_console"
	case models.RoleDataOwner:
		return "data_owner_console"
	default:
		return "user_console"
	}
}

// consoleFor picks the console a voter opens to act on an election.
func consoleFor(user models.User, t models.ElectionType) string {
	switch {
	case t == models.ElectionTypeDataSet:
		return ConsolePath(models.RoleDataOwner)
	case user.Roles.Has(models.RoleChairperson):
		return ConsolePath(models.RoleChairperson)
	default:
		return ConsolePath(models.RoleMember)
	}
}

func (n *Notifier) consoleURL(path string) string {
	return n.serverURL + "/#/" + path
}

func displayName(u models.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}

func render(name string, view mailView) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, view); err != nil {
		return "", fmt.Errorf("render %s email: %w", name, err)
	}
	return buf.String(), nil
}

// RenderDelegated builds the body of a delegation email.
func (n *Notifier) RenderDelegated(user models.User, role models.Role, votes []models.Vote) (string, error) {
	seen := map[int64]bool{}
	var elections []int64
	for _, v := range votes {
		if !seen[v.ElectionID] {
			seen[v.ElectionID] = true
			elections = append(elections, v.ElectionID)
		}
	}
	sort.Slice(elections, func(i, j int) bool { return elections[i] < elections[j] })
	return render("delegated", mailView{
		Name:       displayName(user),
		Role:       role.String(),
		VoteCount:  len(votes),
		Elections:  elections,
		ConsoleURL: n.consoleURL(ConsolePath(role)),
	})
}

// deliver logs msg once per address of user and queues it. A user who opted
// out of email gets log rows marked disabled and nothing is queued.
func (n *Notifier) deliver(ctx context.Context, user models.User, msg message) error {
	var errs []error
	for _, addr := range user.Emails() {
		el := &models.EmailLog{
			DACUserID:      &user.ID,
			ElectionID:     msg.electionID,
			EmailType:      msg.emailType,
			RecipientEmail: addr,
			Subject:        msg.subject,
		}
		if !user.EmailPreference {
			el.Status = models.EmailLogStatusDisabled
		}
		if err := n.logs.Insert(ctx, el); err != nil {
			errs = append(errs, fmt.Errorf("log email to %s: %w", addr, err))
			continue
		}
		if !user.EmailPreference {
			continue
		}
		err := n.queue.EnqueueEmail(ctx, queue.EmailPayload{
			EmailLogID:     el.ID,
			EmailType:      msg.emailType,
			DACUserID:      user.ID,
			RecipientEmail: addr,
			Subject:        msg.subject,
			BodyHTML:       msg.body,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("enqueue email to %s: %w", addr, err))
			if uerr := n.logs.UpdateStatus(ctx, el.ID, models.EmailLogStatusFailed, err.Error()); uerr != nil {
				n.logger.Warn("mark email failed", zap.Error(uerr), zap.String("email_log_id", el.ID.String()))
			}
		}
	}
	return errors.Join(errs...)
}

// NotifyDelegatedResponsibilities tells user they inherited role and votes
// from previousUserID.
func (n *Notifier) NotifyDelegatedResponsibilities(ctx context.Context, user models.User, previousUserID int64, role models.Role, votes []models.Vote) error {
	body, err := n.RenderDelegated(user, role, votes)
	if err != nil {
		return err
	}
	if err := n.deliver(ctx, user, message{
		emailType: models.EmailTypeDelegateResponsibilities,
		subject:   subjectDelegated,
		body:      body,
	}); err != nil {
		return err
	}
	n.logger.Info("delegation email queued",
		zap.Int64("user_id", user.ID),
		zap.Int64("previous_user_id", previousUserID),
		zap.String("role", role.String()),
		zap.Int("votes", len(votes)))
	return nil
}

// NotifyNewCase tells every voter provisioned on e that it is open.
func (n *Notifier) NotifyNewCase(ctx context.Context, e models.Election, voters []models.User) error {
	var errs []error
	for _, u := range voters {
		body, err := render("new_case", mailView{
			Name:         displayName(u),
			ElectionType: string(e.Type),
			Reference:    e.ReferenceID,
			ConsoleURL:   n.consoleURL(consoleFor(u, e.Type)),
		})
		if err != nil {
			return err
		}
		id := e.ID
		if err := n.deliver(ctx, u, message{
			emailType:  models.EmailTypeNewCase,
			subject:    fmt.Sprintf(subjectNewCase, e.Type, e.ReferenceID),
			body:       body,
			electionID: &id,
		}); err != nil {
			errs = append(errs, fmt.Errorf("new case mail to user %d: %w", u.ID, err))
		}
	}
	n.logger.Info("new case emails queued", zap.Int64("election_id", e.ID), zap.Int("voters", len(voters)))
	return errors.Join(errs...)
}

// NotifyReminder asks user to cast vote v on e.
func (n *Notifier) NotifyReminder(ctx context.Context, user models.User, e models.Election, v models.Vote) error {
	console := consoleFor(user, e.Type)
	if v.Type == models.VoteTypeChairperson || v.Type == models.VoteTypeFinal {
		console = ConsolePath(models.RoleChairperson)
	}
	body, err := render("reminder", mailView{
		Name:         displayName(user),
		ElectionType: string(e.Type),
		Reference:    e.ReferenceID,
		ConsoleURL:   n.consoleURL(console),
	})
	if err != nil {
		return err
	}
	id := e.ID
	return n.deliver(ctx, user, message{
		emailType:  models.EmailTypeReminder,
		subject:    fmt.Sprintf(subjectReminder, e.Type, e.ReferenceID),
		body:       body,
		electionID: &id,
	})
}

// NotifyDARCanceled tells users that the request with darCode is cancelled.
func (n *Notifier) NotifyDARCanceled(ctx context.Context, users []models.User, darCode string) error {
	var errs []error
	for _, u := range users {
		body, err := render("dar_canceled", mailView{
			Name:       displayName(u),
			Reference:  darCode,
			ConsoleURL: n.consoleURL(consoleFor(u, models.ElectionTypeDataAccess)),
		})
		if err != nil {
			return err
		}
		if err := n.deliver(ctx, u, message{
			emailType: models.EmailTypeDARCanceled,
			subject:   fmt.Sprintf(subjectDARCanceled, darCode),
			body:      body,
		}); err != nil {
			errs = append(errs, fmt.Errorf("cancel notice to user %d: %w", u.ID, err))
		}
	}
	n.logger.Info("dar cancel notices queued", zap.String("dar_code", darCode), zap.Int("users", len(users)))
	return errors.Join(errs...)
}
