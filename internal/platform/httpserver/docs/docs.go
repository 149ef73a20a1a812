// Package docs registers the OpenAPI document served under /swagger/.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/v1/polls": {
            "get": {
                "produces": ["application/json"],
                "summary": "List polls as parallel id, kind, owner and topic arrays",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/PollIndexResponse"}}}
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Create a poll",
                "parameters": [
                    {"type": "string", "name": "X-User-Id", "in": "header", "required": true},
                    {"type": "string", "name": "Idempotency-Key", "in": "header"},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreatePollRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/PollResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/v1/polls/{poll_id}": {
            "get": {
                "produces": ["application/json"],
                "summary": "Get a poll with its choices and tallies",
                "parameters": [{"type": "integer", "name": "poll_id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/PollResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/v1/polls/{poll_id}/choices": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Add a choice to a poll",
                "parameters": [
                    {"type": "integer", "name": "poll_id", "in": "path", "required": true},
                    {"type": "string", "name": "X-User-Id", "in": "header", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AddChoiceRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/v1/polls/{poll_id}/votes": {
            "get": {
                "produces": ["application/json"],
                "summary": "List live votes of a poll",
                "parameters": [{"type": "integer", "name": "poll_id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Cast a vote",
                "parameters": [
                    {"type": "integer", "name": "poll_id", "in": "path", "required": true},
                    {"type": "string", "name": "X-User-Id", "in": "header", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CastVoteRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            },
            "put": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Replace the caller's vote in one transaction",
                "parameters": [
                    {"type": "integer", "name": "poll_id", "in": "path", "required": true},
                    {"type": "string", "name": "X-User-Id", "in": "header", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CastVoteRequest"}}
                ],
                "responses": {"200": {"description": "OK"}}
            },
            "delete": {
                "produces": ["application/json"],
                "summary": "Cancel the caller's vote",
                "parameters": [
                    {"type": "integer", "name": "poll_id", "in": "path", "required": true},
                    {"type": "string", "name": "X-User-Id", "in": "header", "required": true}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/v1/polls/{poll_id}/voters/{voter}": {
            "get": {
                "produces": ["application/json"],
                "summary": "Get the choice a voter currently backs (0 when none)",
                "parameters": [
                    {"type": "integer", "name": "poll_id", "in": "path", "required": true},
                    {"type": "string", "name": "voter", "in": "path", "required": true}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/v1/polls/{poll_id}/tally": {
            "get": {
                "produces": ["application/json"],
                "summary": "Get the event-derived tally projection of a poll",
                "parameters": [{"type": "integer", "name": "poll_id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/v1/events": {
            "get": {
                "produces": ["application/json"],
                "summary": "Read the ledger event journal after a sequence number",
                "parameters": [
                    {"type": "integer", "name": "after_seq", "in": "query"},
                    {"type": "integer", "name": "limit", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        }
    },
    "definitions": {
        "ErrorResponse": {
            "type": "object",
            "properties": {"code": {"type": "string"}, "message": {"type": "string"}}
        },
        "CreatePollRequest": {
            "type": "object",
            "properties": {
                "kind": {"type": "string", "enum": ["simple", "dynamic", "weighted"]},
                "topic": {"type": "string"},
                "start_time": {"type": "string", "format": "date-time"},
                "end_time": {"type": "string", "format": "date-time"},
                "choices": {"type": "array", "items": {"type": "string"}},
                "weight_mode": {"type": "string", "enum": ["none", "fungible_deposit", "fungible_snapshot", "nonfungible_snapshot"]},
                "weight_asset": {"type": "string"}
            }
        },
        "AddChoiceRequest": {
            "type": "object",
            "properties": {"name": {"type": "string"}}
        },
        "CastVoteRequest": {
            "type": "object",
            "properties": {"choice_id": {"type": "integer"}, "deposit": {"type": "integer"}}
        },
        "PollResponse": {
            "type": "object",
            "properties": {
                "poll_id": {"type": "integer"},
                "kind": {"type": "string"},
                "owner": {"type": "string"},
                "topic": {"type": "string"},
                "start_time": {"type": "string", "format": "date-time"},
                "end_time": {"type": "string", "format": "date-time"},
                "weight_mode": {"type": "string"},
                "weight_asset": {"type": "string"},
                "escrowed": {"type": "integer"}
            }
        },
        "PollIndexResponse": {
            "type": "object",
            "properties": {
                "ids": {"type": "array", "items": {"type": "integer"}},
                "kinds": {"type": "array", "items": {"type": "string"}},
                "owners": {"type": "array", "items": {"type": "string"}},
                "topics": {"type": "array", "items": {"type": "string"}}
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
	Title:            "Agora Poll Registry API",
	Description:      "Poll lifecycle, one-vote-per-voter enforcement and weighted voting over a transactional ledger.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
