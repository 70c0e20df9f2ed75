// Package service holds the application-level services that sit between the
// HTTP delivery layer and the domain. Each subpackage covers one concern;
// auth implements operator authentication and token issuance for the
// operations API.
//
// Services receive their dependencies through constructor injection and
// depend only on domain entities and store interfaces, never on specific
// infrastructure implementations.
package service
