package importer

import (
	"fmt"

	"github.com/tabiasoft/orodha/core"
)

// StaticAuthorizer gates imports on a configuration flag and writes every
// audit entry to the application log.
type StaticAuthorizer struct {
	allowed bool
	logger  core.Logger
}

var _ core.Authorizer = (*StaticAuthorizer)(nil)

func NewStaticAuthorizer(conf *core.Config, logger core.Logger) *StaticAuthorizer {
	return &StaticAuthorizer{allowed: conf.Source.ImportEnabled, logger: logger}
}

func (a StaticAuthorizer) CanImport() bool { return a.allowed }

func (a StaticAuthorizer) AuditImport(action, detail string) {
	a.logger.Info(fmt.Sprintf("audit: %s %s", action, detail))
}
