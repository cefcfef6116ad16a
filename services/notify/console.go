// Package notifysvc surfaces operator notifications (import summaries, sync
// failures) through pluggable backends.
package notifysvc

import (
	"log"
	"sync"

	"github.com/tabiasoft/orodha/core"
)

type consoleService struct {
	titlePrefix string
}

var _ core.Notifier = (*consoleService)(nil)

func NewConsoleService(conf *core.Config) core.Notifier {
	return &consoleService{titlePrefix: "[" + conf.AppName + "] "}
}

func (svc consoleService) Notify(title, message string) {
	log.Printf("%s%s\n%s", svc.titlePrefix, title, message)
}

// Notification is one captured mock delivery.
type Notification struct {
	Title   string
	Message string
}

type serviceMock struct {
	mu   sync.Mutex
	sent []Notification
}

var _ core.Notifier = (*serviceMock)(nil)

// NewServiceMock returns a Notifier that only records deliveries for
// inspection in tests.
func NewServiceMock() *serviceMock {
	return &serviceMock{}
}

func (svc *serviceMock) Notify(title, message string) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.sent = append(svc.sent, Notification{Title: title, Message: message})
}

func (svc *serviceMock) Sent() []Notification {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return append([]Notification(nil), svc.sent...)
}
