// Package docs は /swagger で配信する API 定義
package docs

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
    "securityDefinitions": {
        "Bearer": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"Bearer": []}],
    "paths": {
        "/auth/register": {"post": {"tags": ["auth"], "summary": "アカウント登録", "security": [], "responses": {"201": {"description": "Created"}, "409": {"description": "Conflict"}}}},
        "/auth/login": {"post": {"tags": ["auth"], "summary": "ログイン（JWT発行）", "security": [], "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}}},
        "/books": {
            "get": {"tags": ["books"], "summary": "借りられる本の一覧", "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["books"], "summary": "本の登録", "responses": {"201": {"description": "Created"}}}
        },
        "/books/owner": {"get": {"tags": ["books"], "summary": "自分の本の一覧", "responses": {"200": {"description": "OK"}}}},
        "/books/{book_id}": {"get": {"tags": ["books"], "summary": "本の取得", "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}},
        "/books/cover/{book_id}": {
            "get": {"tags": ["books"], "summary": "カバー画像", "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["books"], "summary": "カバー画像のアップロード（所有者のみ）", "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}}}
        },
        "/books/shareable/{book_id}": {"patch": {"tags": ["lending"], "summary": "共有フラグ切り替え", "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}}}},
        "/books/archived/{book_id}": {"patch": {"tags": ["lending"], "summary": "アーカイブ切り替え", "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}}}},
        "/books/borrow/{book_id}": {"post": {"tags": ["lending"], "summary": "本を借りる", "responses": {"201": {"description": "Created"}, "403": {"description": "OWN_BOOK"}, "409": {"description": "NOT_SHAREABLE / ALREADY_BORROWED"}, "503": {"description": "TIMEOUT"}}}},
        "/books/borrow/return/{book_id}": {"patch": {"tags": ["lending"], "summary": "返却", "responses": {"200": {"description": "OK"}, "403": {"description": "NOT_BORROWER"}, "404": {"description": "NO_ACTIVE_LOAN"}, "409": {"description": "ALREADY_RETURNED"}}}},
        "/books/borrow/return/approve/{book_id}": {"patch": {"tags": ["lending"], "summary": "返却承認", "responses": {"200": {"description": "OK"}, "403": {"description": "NOT_OWNER"}, "409": {"description": "NOT_YET_RETURNED"}}}},
        "/books/borrowed": {"get": {"tags": ["lending"], "summary": "借りている本", "responses": {"200": {"description": "OK"}}}},
        "/books/returned": {"get": {"tags": ["lending"], "summary": "返却承認待ち", "responses": {"200": {"description": "OK"}}}},
        "/books/borrowed/history": {"get": {"tags": ["lending"], "summary": "借りた履歴", "responses": {"200": {"description": "OK"}}}},
        "/books/lent/history": {"get": {"tags": ["lending"], "summary": "貸した履歴", "responses": {"200": {"description": "OK"}}}},
        "/books/lent/history/export": {"get": {"tags": ["lending"], "summary": "貸した履歴のCSV（encoding=utf8|sjis）", "produces": ["text/csv"], "responses": {"200": {"description": "OK"}}}},
        "/loans/{record_id}": {"get": {"tags": ["lending"], "summary": "貸出レコード", "responses": {"200": {"description": "OK"}, "403": {"description": "NOT_PARTICIPANT"}}}},
        "/ws": {"get": {"tags": ["realtime"], "summary": "貸出イベントの WebSocket（?access_token=）", "responses": {"101": {"description": "Switching Protocols"}}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{"https", "http"},
	Title:            "BookNet API",
	Description:      "本の共有と貸し借りの台帳",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
