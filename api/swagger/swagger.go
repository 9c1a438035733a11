package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Ultima Training API",
        "description": "Course catalog, enrollment, payments and certificates for the Ultima training platform",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "tags": [
        {"name": "Authentication", "description": "Accounts and sessions"},
        {"name": "Courses", "description": "Course catalog and sessions"},
        {"name": "Enrollments", "description": "Enrollment lifecycle"},
        {"name": "Payments", "description": "Payments and refunds"},
        {"name": "Feedback", "description": "Course reviews"},
        {"name": "Certificates", "description": "Completion certificates"}
    ],
    "paths": {
        "/auth/signup": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Register a new account",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SignupRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Email already registered"}
                }
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate by email and password",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/courses": {
            "get": {
                "tags": ["Courses"],
                "summary": "List active courses",
                "parameters": [
                    {"name": "type", "in": "query", "type": "string"},
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Courses"],
                "summary": "Create a course",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateCourseRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/courses/{id}": {
            "get": {
                "tags": ["Courses"],
                "summary": "Get a course with sessions and published ratings",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/courses/{id}/sessions": {
            "post": {
                "tags": ["Courses"],
                "summary": "Schedule a session for a course",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AddSessionRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "List enrollments visible to the caller",
                "parameters": [
                    {"name": "studentId", "in": "query", "type": "string"},
                    {"name": "courseId", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Enrollments"],
                "summary": "Register for a course session",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RegisterEnrollmentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Duplicate enrollment"},
                    "422": {"description": "Session full or already started"}
                }
            }
        },
        "/enrollments/{id}/approve": {
            "put": {
                "tags": ["Enrollments"],
                "summary": "Approve a pending enrollment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already approved or invalid transition"}
                }
            }
        },
        "/enrollments/{id}/reject": {
            "put": {
                "tags": ["Enrollments"],
                "summary": "Reject a pending enrollment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RejectEnrollmentRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/{id}/cancel": {
            "put": {
                "tags": ["Enrollments"],
                "summary": "Cancel an enrollment before its session starts",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Session already started"}
                }
            }
        },
        "/enrollments/tracking/{number}": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "Look up an enrollment by tracking number",
                "parameters": [
                    {"name": "number", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/payments": {
            "post": {
                "tags": ["Payments"],
                "summary": "Open a payment for a pending enrollment",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreatePaymentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/payments/{id}/confirm": {
            "put": {
                "tags": ["Payments"],
                "summary": "Confirm a payment with processor evidence",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ConfirmPaymentRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "502": {"description": "Gateway unavailable"}
                }
            }
        },
        "/payments/{id}/approve": {
            "put": {
                "tags": ["Payments"],
                "summary": "Approve a bank transfer receipt and settle the payment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/payments/{id}/refund": {
            "post": {
                "tags": ["Payments"],
                "summary": "Request a refund for a completed payment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RefundRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/payments/webhooks/paypal": {
            "post": {
                "tags": ["Payments"],
                "summary": "Receive PayPal capture notifications",
                "responses": {
                    "200": {"description": "Acknowledged"}
                }
            }
        },
        "/feedback": {
            "get": {
                "tags": ["Feedback"],
                "summary": "List course reviews",
                "parameters": [
                    {"name": "courseId", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Feedback"],
                "summary": "Submit a review for a completed enrollment",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SubmitFeedbackRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Feedback already submitted"}
                }
            }
        },
        "/feedback/{id}/approve": {
            "put": {
                "tags": ["Feedback"],
                "summary": "Publish a review",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already published"}
                }
            }
        },
        "/feedback/{id}/request-changes": {
            "put": {
                "tags": ["Feedback"],
                "summary": "Ask the student to revise a review",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RequestFeedbackChangesRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already published"}
                }
            }
        },
        "/certificates/{enrollmentId}": {
            "get": {
                "tags": ["Certificates"],
                "summary": "Get the certificate for an enrollment",
                "parameters": [
                    {"name": "enrollmentId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/certificates/{enrollmentId}/download": {
            "get": {
                "tags": ["Certificates"],
                "summary": "Mint a signed download link for a certificate PDF",
                "parameters": [
                    {"name": "enrollmentId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/certificates/download": {
            "get": {
                "tags": ["Certificates"],
                "summary": "Download a certificate PDF with a signed token",
                "produces": ["application/pdf"],
                "parameters": [
                    {"name": "token", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "PDF file"}
                }
            }
        },
        "/certificates/verify/{number}": {
            "get": {
                "tags": ["Certificates"],
                "summary": "Verify a certificate by its public number",
                "parameters": [
                    {"name": "number", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/CertificateVerification"}},
                    "404": {"description": "Unknown certificate number"}
                }
            }
        }
    },
    "definitions": {
        "SignupRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"},
                "full_name": {"type": "string"},
                "mobile": {"type": "string"},
                "country_code": {"type": "string"},
                "organization": {"type": "string"}
            },
            "required": ["email", "password", "full_name", "mobile", "country_code"]
        },
        "LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            },
            "required": ["email", "password"]
        },
        "CreateCourseRequest": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "short_description": {"type": "string"},
                "detailed_description": {"type": "string"},
                "instructor_id": {"type": "string"},
                "co_instructor_id": {"type": "string"},
                "price_cents": {"type": "integer"},
                "currency": {"type": "string"},
                "duration_hours": {"type": "integer"},
                "max_capacity": {"type": "integer"},
                "course_type": {"type": "string", "enum": ["online", "in_person", "hybrid"]},
                "prerequisites": {"type": "string"}
            },
            "required": ["name", "short_description", "instructor_id", "currency", "duration_hours", "course_type"]
        },
        "AddSessionRequest": {
            "type": "object",
            "properties": {
                "start_datetime": {"type": "string", "format": "date-time"},
                "end_datetime": {"type": "string", "format": "date-time"},
                "location": {"type": "string"},
                "online_link": {"type": "string"}
            },
            "required": ["start_datetime", "end_datetime"]
        },
        "RegisterEnrollmentRequest": {
            "type": "object",
            "properties": {
                "session_id": {"type": "string"},
                "promo_code": {"type": "string"}
            },
            "required": ["session_id"]
        },
        "RejectEnrollmentRequest": {
            "type": "object",
            "properties": {
                "reason": {"type": "string"}
            },
            "required": ["reason"]
        },
        "CreatePaymentRequest": {
            "type": "object",
            "properties": {
                "enrollment_id": {"type": "string"},
                "method": {"type": "string", "enum": ["PAYPAL", "BANK_TRANSFER", "STRIPE"]}
            },
            "required": ["enrollment_id", "method"]
        },
        "ConfirmPaymentRequest": {
            "type": "object",
            "properties": {
                "reference": {"type": "string"}
            },
            "required": ["reference"]
        },
        "RefundRequest": {
            "type": "object",
            "properties": {
                "reason": {"type": "string"},
                "bank_card_number": {"type": "string"},
                "cardholder_name": {"type": "string"}
            },
            "required": ["reason"]
        },
        "SubmitFeedbackRequest": {
            "type": "object",
            "properties": {
                "enrollment_id": {"type": "string"},
                "overall_rating": {"type": "integer"},
                "content_rating": {"type": "integer"},
                "instructor_rating": {"type": "integer"},
                "venue_rating": {"type": "integer"},
                "overall_experience": {"type": "string"},
                "key_takeaways": {"type": "string"},
                "improvements": {"type": "string"},
                "would_recommend": {"type": "boolean"},
                "allow_testimonial": {"type": "boolean"}
            },
            "required": ["enrollment_id", "overall_rating", "content_rating", "instructor_rating", "venue_rating", "overall_experience"]
        },
        "RequestFeedbackChangesRequest": {
            "type": "object",
            "properties": {
                "comments": {"type": "string"}
            },
            "required": ["comments"]
        },
        "CertificateVerification": {
            "type": "object",
            "properties": {
                "certificate_number": {"type": "string"},
                "student_name": {"type": "string"},
                "student_mobile": {"type": "string"},
                "course_name": {"type": "string"},
                "completion_date": {"type": "string"},
                "issued_at": {"type": "string"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
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
