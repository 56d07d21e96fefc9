package consts

const (
	// Phases
	PhaseActive = "Active"
	PhaseFailed = "Failed"

	// Condition Types
	ConditionTypeReady = "Ready"

	// Condition Reasons
	ReasonReconciliationSucceeded = "ReconciliationSucceeded"
	ReasonValidationFailed        = "ValidationFailed"
	ReasonUnsupportedSpecShape    = "UnsupportedSpecShape"
	ReasonStoreError              = "StoreError"

	// Route states reported on the Microservice status
	RoutePresent = "present"
	RouteAbsent  = "absent"

	// Labels
	LabelName      = "app.kubernetes.io/name"
	LabelManagedBy = "app.kubernetes.io/managed-by"
	ManagedBy      = "microservice-operator"

	// Shared ingress Gateway
	GatewayName      = "microservice-gateway"
	GatewayNamespace = "istio-system"
	GatewaySelector  = "ingressgateway"

	// Kinds
	KindMicroservice   = "Microservice"
	KindDeployment     = "Deployment"
	KindService        = "Service"
	KindVirtualService = "VirtualService"
	KindGateway        = "Gateway"
)
