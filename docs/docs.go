// Package docs provides the swagger spec consumed by the /swagger UI route.
// Regenerate with `swag init -g cmd/api/main.go` after changing annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "API Support",
            "email": "support@prepmed.example"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/healthz": {
            "get": {
                "produces": ["application/json"],
                "tags": ["System"],
                "summary": "Health check",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/v1/checkout/signup": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Checkout"],
                "summary": "Signup with subscription checkout",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/v1/checkout/activate": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Checkout"],
                "summary": "Activate a deferred checkout",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/v1/webhook/stripe": {
            "post": {
                "tags": ["Webhook"],
                "summary": "Stripe webhook",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/v1/webhook/razorpay": {
            "post": {
                "tags": ["Webhook"],
                "summary": "Razorpay webhook",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/v1/quiz/daily-question": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Quiz"],
                "summary": "Today's quiz question",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/v1/quiz/daily-answer": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Quiz"],
                "summary": "Submit a daily quiz answer",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/v1/admin/subscription": {
            "patch": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "Override a user's subscription (Admin)",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/v1/admin/list_subscriptions": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "List subscriptions (Admin)",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/v1/admin/get_subscription_statistic": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "Subscription statistics (Admin)",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/v1/admin/send_free_grant": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "Send free subscription grant (Admin)",
                "responses": {"200": {"description": "OK"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8888",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Billing Backend API",
	Description:      "Subscription lifecycle and payment fulfillment backend with health monitoring.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
