package sqlassets

import _ "embed"

//go:embed schema/control/tenants.sql
var TenantsSQL string

//go:embed schema/control/schema_definitions.sql
var SchemaDefinitionsSQL string

//go:embed schema/control/query_history.sql
var QueryHistorySQL string

//go:embed schema/tenant/bootstrap.sql
var TenantBootstrapSQL string

//go:embed schema/contracts/schema_update.schema.json
var SchemaUpdateContract []byte

//go:embed schema/contracts/query_execute.schema.json
var QueryExecuteContract []byte

//go:embed schema/contracts/tenant_create.schema.json
var TenantCreateContract []byte
