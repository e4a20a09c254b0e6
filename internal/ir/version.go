package ir

// Version constants for the persisted schema and downstream contracts.
const (
	// SchemaVersion is the version of the store layout recorded in _schema_version.
	SchemaVersion = 3

	// ExportSchemaVersion tags every exported row for downstream consumers.
	ExportSchemaVersion = "famlink.links/v2"

	// ContractFormat names the flat row-per-link export contract.
	ContractFormat = "flat-link-row"

	// EngineVersion is the famlink engine version.
	EngineVersion = "0.4.0"
)
