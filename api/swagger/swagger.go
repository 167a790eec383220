package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Event Registration API",
        "description": "Student event registration with admin review and emailed confirmations",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Registrations", "description": "Public student endpoints"},
        {"name": "Authentication", "description": "Admin sign-in"},
        {"name": "Admin", "description": "Review console"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Liveness check",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"},
                    "503": {"description": "Database unreachable"}
                }
            }
        },
        "/register": {
            "post": {
                "tags": ["Registrations"],
                "summary": "Submit a registration",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SubmitRegistrationRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/RegistrationCreated"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ErrorBody"}}
                }
            }
        },
        "/payment": {
            "post": {
                "tags": ["Registrations"],
                "summary": "Upload payment proof",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "registrationId", "in": "formData", "type": "string", "required": true},
                    {"name": "utrNumber", "in": "formData", "type": "string", "required": true},
                    {"name": "screenshot", "in": "formData", "type": "file", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/PaymentCreated"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ErrorBody"}},
                    "404": {"description": "Registration not found", "schema": {"$ref": "#/definitions/ErrorBody"}},
                    "409": {"description": "Payment already submitted", "schema": {"$ref": "#/definitions/ErrorBody"}}
                }
            }
        },
        "/payment/{id}/screenshot": {
            "get": {
                "tags": ["Registrations"],
                "summary": "Download a payment screenshot",
                "produces": ["application/octet-stream"],
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "Screenshot bytes", "schema": {"type": "file"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ErrorBody"}}
                }
            }
        },
        "/api/admin/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate an admin",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/LoginResponse"}},
                    "400": {"description": "Invalid credentials", "schema": {"$ref": "#/definitions/ErrorBody"}}
                }
            }
        },
        "/api/admin/register": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Create an admin (when enabled)",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created"},
                    "404": {"description": "Registration disabled", "schema": {"$ref": "#/definitions/ErrorBody"}},
                    "409": {"description": "Username taken", "schema": {"$ref": "#/definitions/ErrorBody"}}
                }
            }
        },
        "/api/admin/me": {
            "get": {
                "tags": ["Authentication"],
                "summary": "Current admin",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/AdminResponse"}},
                    "401": {"description": "No token", "schema": {"$ref": "#/definitions/ErrorBody"}},
                    "403": {"description": "Invalid token", "schema": {"$ref": "#/definitions/ErrorBody"}}
                }
            }
        },
        "/api/admin/registrations": {
            "get": {
                "tags": ["Admin"],
                "summary": "List registrations with payments",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/Registration"}}}
                }
            }
        },
        "/api/admin/registrations/export": {
            "get": {
                "tags": ["Admin"],
                "summary": "Export registrations as CSV",
                "security": [{"BearerAuth": []}],
                "produces": ["text/csv"],
                "responses": {"200": {"description": "CSV file", "schema": {"type": "file"}}}
            }
        },
        "/api/admin/approve/{id}": {
            "post": {
                "tags": ["Admin"],
                "summary": "Approve a registration and email its confirmation",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "Approved", "schema": {"$ref": "#/definitions/MessageBody"}},
                    "400": {"description": "Already approved or rejected", "schema": {"$ref": "#/definitions/ErrorBody"}},
                    "404": {"description": "Registration or payment missing", "schema": {"$ref": "#/definitions/ErrorBody"}},
                    "500": {"description": "Approved but the confirmation email failed", "schema": {"$ref": "#/definitions/ErrorBody"}}
                }
            }
        },
        "/api/admin/reject/{id}": {
            "post": {
                "tags": ["Admin"],
                "summary": "Reject a registration",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "Rejected", "schema": {"$ref": "#/definitions/MessageBody"}},
                    "400": {"description": "Already approved or rejected", "schema": {"$ref": "#/definitions/ErrorBody"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ErrorBody"}}
                }
            }
        },
        "/api/admin/registrations/{id}/resend-confirmation": {
            "post": {
                "tags": ["Admin"],
                "summary": "Resend the confirmation email",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "Sent", "schema": {"$ref": "#/definitions/MessageBody"}},
                    "400": {"description": "Not approved", "schema": {"$ref": "#/definitions/ErrorBody"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ErrorBody"}},
                    "500": {"description": "Delivery failed", "schema": {"$ref": "#/definitions/ErrorBody"}}
                }
            }
        },
        "/api/admin/confirmations/verify": {
            "post": {
                "tags": ["Admin"],
                "summary": "Verify a scanned confirmation code",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/VerifyConfirmationRequest"}}
                ],
                "responses": {
                    "200": {"description": "Verification result", "schema": {"$ref": "#/definitions/VerifyConfirmationResponse"}},
                    "400": {"description": "Missing code", "schema": {"$ref": "#/definitions/ErrorBody"}}
                }
            }
        },
        "/metrics": {
            "get": {
                "summary": "Prometheus metrics",
                "produces": ["text/plain"],
                "responses": {"200": {"description": "Exposition format"}}
            }
        }
    },
    "definitions": {
        "SubmitRegistrationRequest": {
            "type": "object",
            "required": ["studentName", "college", "email", "event"],
            "properties": {
                "studentName": {"type": "string"},
                "college": {"type": "string"},
                "email": {"type": "string", "format": "email"},
                "event": {"type": "string"}
            }
        },
        "RegistrationCreated": {
            "type": "object",
            "properties": {
                "message": {"type": "string"},
                "registrationId": {"type": "string"}
            }
        },
        "PaymentCreated": {
            "type": "object",
            "properties": {
                "message": {"type": "string"},
                "paymentId": {"type": "string"}
            }
        },
        "Payment": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "utrNumber": {"type": "string"},
                "screenshotMime": {"type": "string"},
                "screenshotSize": {"type": "integer"},
                "screenshotUrl": {"type": "string"},
                "paymentDate": {"type": "string", "format": "date-time"}
            }
        },
        "Registration": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "studentName": {"type": "string"},
                "college": {"type": "string"},
                "email": {"type": "string"},
                "event": {"type": "string"},
                "amount": {"type": "integer"},
                "registrationDate": {"type": "string", "format": "date-time"},
                "isApproved": {"type": "boolean"},
                "isRejected": {"type": "boolean"},
                "status": {"type": "string", "enum": ["PENDING", "APPROVED", "REJECTED"]},
                "reviewedBy": {"type": "string"},
                "reviewedAt": {"type": "string", "format": "date-time"},
                "confirmationStatus": {"type": "string", "enum": ["NOT_SENT", "SENT", "FAILED"]},
                "confirmationAttempts": {"type": "integer"},
                "confirmationSentAt": {"type": "string", "format": "date-time"},
                "confirmationError": {"type": "string"},
                "payment": {"$ref": "#/definitions/Payment"}
            }
        },
        "LoginRequest": {
            "type": "object",
            "required": ["username", "password"],
            "properties": {
                "username": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "LoginResponse": {
            "type": "object",
            "properties": {
                "message": {"type": "string"},
                "token": {"type": "string"},
                "expiresIn": {"type": "integer"}
            }
        },
        "AdminResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "username": {"type": "string"}
            }
        },
        "VerifyConfirmationRequest": {
            "type": "object",
            "required": ["code"],
            "properties": {"code": {"type": "string"}}
        },
        "VerifyConfirmationResponse": {
            "type": "object",
            "properties": {
                "valid": {"type": "boolean"},
                "reason": {"type": "string"},
                "registration": {"$ref": "#/definitions/Registration"}
            }
        },
        "MessageBody": {
            "type": "object",
            "properties": {"message": {"type": "string"}}
        },
        "ErrorBody": {
            "type": "object",
            "properties": {
                "message": {"type": "string"},
                "code": {"type": "string"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
