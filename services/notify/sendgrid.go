package notifysvc

import (
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/tabiasoft/orodha/core"
)

var (
	host     = "https://api.sendgrid.com"
	endpoint = "/v3/mail/send"
)

// sendgridService emails each notification to the configured operator address.
type sendgridService struct {
	key         string
	from        *sgmail.Email
	to          *sgmail.Email
	titlePrefix string
	logger      core.Logger
}

var _ core.Notifier = (*sendgridService)(nil)

func NewSendgridService(conf *core.Config, logger core.Logger) core.Notifier {
	return &sendgridService{
		key:         conf.SendgridApiKey,
		from:        sgmail.NewEmail(conf.DefaultFromEmail.Name, conf.DefaultFromEmail.Address),
		to:          sgmail.NewEmail("", conf.NotifyEmail),
		titlePrefix: "[" + conf.AppName + "] ",
		logger:      logger,
	}
}

func (svc sendgridService) Notify(title, message string) {
	go svc.send(title, message)
}

func (svc sendgridService) prepare(title, message string) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = svc.titlePrefix + title
	p.AddTos(svc.to)

	m := sgmail.NewV3Mail()
	m.SetFrom(svc.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", message))
	return m
}

func (svc sendgridService) send(title, message string) {
	req := sendgrid.GetRequest(svc.key, endpoint, host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(svc.prepare(title, message))

	res, err := sendgrid.API(req)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("sending notification: %v", err), err)
	} else if res.StatusCode >= http.StatusBadRequest {
		svc.logger.Error(fmt.Sprintf("sending notification - status: %d - Body: %s", res.StatusCode, res.Body))
	}
}
