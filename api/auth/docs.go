// Package auth holds the OpenAPI document for the authentication service.
// It is built from the annotations in internal/auth/http; regenerate with
//
//	swag init -g internal/auth/http/router.go -o api/auth --outputTypes go
package auth

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "AussieBroadWAN Team",
            "url": "https://github.com/aussiebroadwan/academy"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/livez": {
            "get": {
                "description": "Liveness probe. Always 200 while the process is serving.",
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Liveness probe",
                "responses": {
                    "200": {"description": "status", "schema": {"$ref": "#/definitions/authsdk.HealthResponse"}}
                }
            }
        },
        "/readyz": {
            "get": {
                "description": "Readiness probe. Pings the session store and the credential database.",
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Readiness probe",
                "responses": {
                    "200": {"description": "all dependencies answered", "schema": {"$ref": "#/definitions/authsdk.HealthResponse"}},
                    "503": {"description": "a dependency is unavailable", "schema": {"$ref": "#/definitions/authsdk.HealthResponse"}}
                }
            }
        },
        "/v1/auth/register": {
            "post": {
                "description": "Creates a user account. Emails are matched case-insensitively and must be unique.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Auth"],
                "summary": "Register a user",
                "parameters": [
                    {"description": "New account", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/authsdk.RegisterRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created user", "schema": {"$ref": "#/definitions/authsdk.UserResponse"}},
                    "400": {"description": "Invalid email, username or password", "schema": {"$ref": "#/definitions/authsdk.APIError"}},
                    "409": {"description": "Email already registered", "schema": {"$ref": "#/definitions/authsdk.APIError"}},
                    "429": {"description": "Rate limit exceeded", "schema": {"$ref": "#/definitions/authsdk.APIError"}}
                }
            }
        },
        "/v1/auth/login": {
            "post": {
                "description": "Checks credentials and starts a session. The refresh token is also set as an HttpOnly cookie.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Auth"],
                "summary": "Log in",
                "parameters": [
                    {"description": "Credentials", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/authsdk.LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "Token pair", "schema": {"$ref": "#/definitions/authsdk.TokenResponse"}},
                    "400": {"description": "Missing email or password", "schema": {"$ref": "#/definitions/authsdk.APIError"}},
                    "401": {"description": "Invalid credentials", "schema": {"$ref": "#/definitions/authsdk.APIError"}},
                    "429": {"description": "Rate limit exceeded", "schema": {"$ref": "#/definitions/authsdk.APIError"}}
                }
            }
        },
        "/v1/auth/refresh": {
            "post": {
                "description": "Rotates the session. The refresh token comes from the body or the refresh_token cookie; the old pair stops working.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Auth"],
                "summary": "Refresh a token pair",
                "parameters": [
                    {"description": "Refresh token, optional when the cookie is sent", "name": "request", "in": "body", "schema": {"$ref": "#/definitions/authsdk.RefreshRequest"}}
                ],
                "responses": {
                    "200": {"description": "New token pair", "schema": {"$ref": "#/definitions/authsdk.TokenResponse"}},
                    "400": {"description": "No refresh token", "schema": {"$ref": "#/definitions/authsdk.APIError"}},
                    "401": {"description": "Invalid, expired or already used refresh token", "schema": {"$ref": "#/definitions/authsdk.APIError"}},
                    "429": {"description": "Rate limit exceeded", "schema": {"$ref": "#/definitions/authsdk.APIError"}}
                }
            }
        },
        "/v1/auth/logout": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Ends the session and revokes the access token. Expired access tokens are accepted; repeated calls succeed.",
                "consumes": ["application/json"],
                "tags": ["Auth"],
                "summary": "Log out",
                "parameters": [
                    {"description": "Refresh token, optional when the cookie is sent", "name": "request", "in": "body", "schema": {"$ref": "#/definitions/authsdk.LogoutRequest"}}
                ],
                "responses": {
                    "204": {"description": "Logged out"},
                    "400": {"description": "Malformed or missing token", "schema": {"$ref": "#/definitions/authsdk.APIError"}},
                    "401": {"description": "Missing bearer token or bad signature", "schema": {"$ref": "#/definitions/authsdk.APIError"}},
                    "429": {"description": "Rate limit exceeded", "schema": {"$ref": "#/definitions/authsdk.APIError"}}
                }
            }
        },
        "/v1/auth/me": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Returns the authenticated user.",
                "produces": ["application/json"],
                "tags": ["Auth"],
                "summary": "Current user",
                "responses": {
                    "200": {"description": "User", "schema": {"$ref": "#/definitions/authsdk.UserResponse"}},
                    "401": {"description": "Invalid, expired or revoked access token", "schema": {"$ref": "#/definitions/authsdk.APIError"}},
                    "404": {"description": "User no longer exists", "schema": {"$ref": "#/definitions/authsdk.APIError"}},
                    "429": {"description": "Rate limit exceeded", "schema": {"$ref": "#/definitions/authsdk.APIError"}}
                }
            }
        }
    },
    "definitions": {
        "authsdk.APIError": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "error_description": {"type": "string"}
            }
        },
        "authsdk.HealthResponse": {
            "type": "object",
            "properties": {
                "checks": {"type": "object", "additionalProperties": {"type": "string"}},
                "status": {"type": "string"}
            }
        },
        "authsdk.LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "authsdk.LogoutRequest": {
            "type": "object",
            "properties": {
                "refresh_token": {"type": "string"}
            }
        },
        "authsdk.RefreshRequest": {
            "type": "object",
            "properties": {
                "refresh_token": {"type": "string"}
            }
        },
        "authsdk.RegisterRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"},
                "username": {"type": "string"}
            }
        },
        "authsdk.TokenResponse": {
            "type": "object",
            "properties": {
                "access_token": {"type": "string"},
                "expires_in": {"type": "integer"},
                "refresh_token": {"type": "string"},
                "token_type": {"type": "string"}
            }
        },
        "authsdk.UserResponse": {
            "type": "object",
            "properties": {
                "created_at": {"type": "string"},
                "email": {"type": "string"},
                "id": {"type": "string"},
                "username": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "JWT access token. Format: \"Bearer {token}\".",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "0.1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "Academy Authentication Service API",
	Description:      "Session and token lifecycle for the academy platform: login, refresh rotation, logout and access token checks. Tokens are HS256 JWTs; access tokens are revocable through a blacklist.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
