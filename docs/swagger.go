// Package docs contains the OpenAPI documentation for the Atoll registry
//
//	@title			Atoll Plugin Registry API
//	@version		1.0
//	@description	A metadata registry for self-contained game-world plugins (.island archives). Atoll stores manifests, distribution URLs, and digests; artifact bytes stay on external hosting and downloads are verified redirects.
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/v1
//	@schemes	http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Type "Bearer" followed by a space and an API token (isl_...) or a federated OIDC token.
//
//	@tag.name			Packages
//	@tag.description	Package and version listings, detail, and the index snapshot
//
//	@tag.name			Search
//	@tag.description	Free-text and filtered package search
//
//	@tag.name			Downloads
//	@tag.description	Download resolution; responses redirect to external hosting with digest headers
//
//	@tag.name			Publishing
//	@tag.description	Version registration and yanking
//
//	@tag.name			Package Ownership
//	@tag.description	Collaborator and trusted-publisher rule management
package docs
