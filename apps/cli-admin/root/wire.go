package root

import (
	bootstrapcmd "github.com/schemaloom/schemaloom/apps/cli-admin/cmd/bootstrap"
	historycmd "github.com/schemaloom/schemaloom/apps/cli-admin/cmd/history"
	tenantcmd "github.com/schemaloom/schemaloom/apps/cli-admin/cmd/tenant"
)

func init() {
	Root().AddCommand(bootstrapcmd.Command())
	Root().AddCommand(tenantcmd.Command())
	Root().AddCommand(historycmd.Command())
}
