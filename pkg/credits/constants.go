package credits

const (
	operationApply     = "apply"
	operationProvision = "provision"
	operationBalance   = "balance"
	operationHistory   = "history"

	operationStatusOK        = "ok"
	operationStatusError     = "error"
	operationStatusDuplicate = "duplicate"

	defaultMetadataJSON = "{}"
)
