// Package main Hangouts API
//
//	@title			Hangouts API
//	@version		1.0
//	@description	Invitation and acknowledgement relay between users. Hangout commands run over
//	@description	the /ws WebSocket or the REST endpoints below; both share one state machine.
//
//	@contact.name	Hangouts maintainers
//	@contact.url	https://github.com/observer/hangouts
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT token (format: Bearer <token>)
package main
