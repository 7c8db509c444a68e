package models

// CheckResult is the cheap, hash-free view of an instance on disk.
type CheckResult struct {
	ManifestFound    bool `json:"manifest_found"`
	ClientPresent    bool `json:"client_present"`
	ClientExecutable bool `json:"client_executable"`
	RuntimePresent   bool `json:"runtime_present"`
	ServerPresent    bool `json:"server_present"`
	Complete         bool `json:"complete"`
	NeedsUpdate      bool `json:"needs_update"`
	InstalledBuild   int  `json:"installed_build"`
	ExpectedBuild    *int `json:"expected_build,omitempty"`
}

// HealthStatus classifies an installed client against an expected build.
type HealthStatus string

const (
	HealthHealthy      HealthStatus = "healthy"
	HealthOutdated     HealthStatus = "outdated"
	HealthNeedsRepair  HealthStatus = "needs-repair"
	HealthNotInstalled HealthStatus = "not-installed"
)

// OnlinePatchStatus classifies the live client against the recorded online patch.
type OnlinePatchStatus string

const (
	// OnlinePatchNone means no online patch was ever recorded for the client.
	OnlinePatchNone OnlinePatchStatus = "none"
	// OnlinePatchIntact means the live file still hashes to the applied patch.
	OnlinePatchIntact OnlinePatchStatus = "intact"
	// OnlinePatchReverted means the patch state is recorded but disabled.
	OnlinePatchReverted OnlinePatchStatus = "reverted"
	// OnlinePatchModified means the live file matches neither the patch nor its state.
	OnlinePatchModified OnlinePatchStatus = "modified"
)

// PatchHealth is the hashed view of an instance.
type PatchHealth struct {
	Status         HealthStatus      `json:"status"`
	InstalledBuild int               `json:"installed_build"`
	ExpectedBuild  int               `json:"expected_build"`
	ClientHash     string            `json:"client_hash,omitempty"`
	ExpectedHash   string            `json:"expected_hash,omitempty"`
	OnlinePatch    OnlinePatchStatus `json:"online_patch"`
}
