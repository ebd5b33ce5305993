// Package swagger holds the OpenAPI document served under /api/swagger.
package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/relay": {
            "get": {
                "description": "Returns the verified claim when the caller may use the relay.",
                "produces": ["application/json"],
                "tags": ["Relay"],
                "summary": "Check an identity token",
                "parameters": [
                    {"type": "string", "description": "Identity token", "name": "X-Idtoken", "in": "header", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/responses.IdentityResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/responses.ErrorResponse"}}
                }
            },
            "post": {
                "description": "Streams the assistant's answer as unframed UTF-8 text chunks. A connection closed before the end of the body means the answer was cut short.",
                "consumes": ["application/json"],
                "produces": ["text/plain"],
                "tags": ["Relay"],
                "summary": "Relay a conversation to the completion model",
                "parameters": [
                    {"type": "string", "description": "Identity token", "name": "X-Idtoken", "in": "header", "required": true},
                    {"description": "Conversation", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/relayreq.RelayRequest"}}
                ],
                "responses": {
                    "200": {"description": "answer text", "schema": {"type": "string"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/responses.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/responses.ErrorResponse"}}
                }
            }
        },
        "/api/gpt": {
            "get": {
                "description": "Alias of GET /relay.",
                "produces": ["application/json"],
                "tags": ["Relay"],
                "summary": "Check an identity token",
                "parameters": [
                    {"type": "string", "description": "Identity token", "name": "X-Idtoken", "in": "header", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/responses.IdentityResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/responses.ErrorResponse"}}
                }
            },
            "post": {
                "description": "Alias of POST /relay.",
                "consumes": ["application/json"],
                "produces": ["text/plain"],
                "tags": ["Relay"],
                "summary": "Relay a conversation to the completion model",
                "parameters": [
                    {"type": "string", "description": "Identity token", "name": "X-Idtoken", "in": "header", "required": true},
                    {"description": "Conversation", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/relayreq.RelayRequest"}}
                ],
                "responses": {
                    "200": {"description": "answer text", "schema": {"type": "string"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/responses.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/responses.ErrorResponse"}}
                }
            }
        },
        "/healthz": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Server"],
                "summary": "Liveness probe",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/readyz": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Server"],
                "summary": "Readiness probe",
                "responses": {
                    "200": {"description": "OK"},
                    "503": {"description": "Service Unavailable"}
                }
            }
        }
    },
    "definitions": {
        "chat.Message": {
            "type": "object",
            "required": ["role", "content"],
            "properties": {
                "role": {"type": "string", "enum": ["user", "assistant"]},
                "content": {
                    "description": "Non-empty text, or an array of parts: {\"type\":\"text\",\"text\":...} and {\"type\":\"image_url\",\"image_url\":{\"url\":...}}."
                }
            }
        },
        "relayreq.RelayRequest": {
            "type": "object",
            "required": ["prompt"],
            "properties": {
                "prompt": {
                    "type": "array",
                    "minItems": 1,
                    "items": {"$ref": "#/definitions/chat.Message"}
                }
            }
        },
        "identity.Claim": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "email": {"type": "string"},
                "email_verified": {"type": "boolean"},
                "user_id": {"type": "string"},
                "iat": {"type": "integer"},
                "exp": {"type": "integer"}
            }
        },
        "responses.IdentityResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "integer"},
                "data": {"$ref": "#/definitions/identity.Claim"}
            }
        },
        "responses.ErrorResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "integer"},
                "message": {"type": "string"},
                "code": {"type": "string"},
                "request_id": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "ngpt relay API",
	Description:      "Authenticated relay between chat clients and an OpenAI-compatible completion model.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
