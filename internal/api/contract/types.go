// Пакет contract — HTTP-контракт Metaform API: модели запросов и ответов,
// ServerInterface и маршрутизация chi. Структура повторяет вывод
// oapi-codegen (chi-server) и поддерживается синхронно с openapi.yaml.
package contract

import (
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"
)

// Defines values for ReplyStrategy.
const (
	ReplyStrategyUPDATE     ReplyStrategy = "UPDATE"
	ReplyStrategyREVISION   ReplyStrategy = "REVISION"
	ReplyStrategyCUMULATIVE ReplyStrategy = "CUMULATIVE"
)

// ReplyStrategy defines model for ReplyStrategy.
type ReplyStrategy string

// Attachment defines model for Attachment.
type Attachment struct {
	ContentType string             `json:"contentType"`
	CreatedAt   time.Time          `json:"createdAt"`
	Id          openapi_types.UUID `json:"id"`
	Name        string             `json:"name"`
	Size        int64              `json:"size"`
	UserId      *string            `json:"userId,omitempty"`
}

// Metaform defines model for Metaform.
type Metaform struct {
	AllowAnonymous          *bool               `json:"allowAnonymous,omitempty"`
	DefaultPermissionGroups *PermissionGroups   `json:"defaultPermissionGroups,omitempty"`
	Id                      *openapi_types.UUID `json:"id,omitempty"`
	ReplyStrategy           *ReplyStrategy      `json:"replyStrategy,omitempty"`
	Sections                []MetaformSection   `json:"sections"`
	Slug                    string              `json:"slug"`
	Title                   *string             `json:"title,omitempty"`
}

// MetaformSection defines model for MetaformSection.
type MetaformSection struct {
	Fields []MetaformField `json:"fields"`
	Title  *string         `json:"title,omitempty"`
}

// MetaformField defines model for MetaformField.
type MetaformField struct {
	Columns  *[]MetaformTableColumn `json:"columns,omitempty"`
	Name     *string                `json:"name,omitempty"`
	Options  *[]MetaformFieldOption `json:"options,omitempty"`
	Required *bool                  `json:"required,omitempty"`
	Title    *string                `json:"title,omitempty"`
	Type     string                 `json:"type"`
}

// MetaformFieldOption defines model for MetaformFieldOption.
type MetaformFieldOption struct {
	Name             string            `json:"name"`
	PermissionGroups *PermissionGroups `json:"permissionGroups,omitempty"`
	Text             *string           `json:"text,omitempty"`
}

// MetaformTableColumn defines model for MetaformTableColumn.
type MetaformTableColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// PermissionGroups defines model for PermissionGroups.
type PermissionGroups struct {
	EditGroupIds   *[]string `json:"editGroupIds,omitempty"`
	NotifyGroupIds *[]string `json:"notifyGroupIds,omitempty"`
	ViewGroupIds   *[]string `json:"viewGroupIds,omitempty"`
}

// Reply defines model for Reply. OwnerKey возвращается только при создании
// анонимного ответа.
type Reply struct {
	CreatedAt  time.Time          `json:"createdAt"`
	Data       map[string]any     `json:"data"`
	Id         openapi_types.UUID `json:"id"`
	ModifiedAt time.Time          `json:"modifiedAt"`
	OwnerKey   *string            `json:"ownerKey,omitempty"`
	Revision   *time.Time         `json:"revision,omitempty"`
	UserId     *string            `json:"userId,omitempty"`
}

// ReplyData defines model for ReplyData.
type ReplyData struct {
	Data map[string]any `json:"data"`
}

// ReplyList defines model for ReplyList.
type ReplyList struct {
	Items []Reply `json:"items"`
	Total int     `json:"total"`
}

// XOwnerKey defines model for XOwnerKey.
type XOwnerKey = string

// ListRepliesParams defines parameters for ListReplies.
type ListRepliesParams struct {
	// UserId ответы только указанного пользователя
	UserId *string `form:"userId,omitempty" json:"userId,omitempty"`

	// CreatedBefore ответы, созданные до момента (RFC3339)
	CreatedBefore *time.Time `form:"createdBefore,omitempty" json:"createdBefore,omitempty"`

	// CreatedAfter ответы, созданные после момента (RFC3339)
	CreatedAfter *time.Time `form:"createdAfter,omitempty" json:"createdAfter,omitempty"`

	// ModifiedBefore ответы, изменённые до момента (RFC3339)
	ModifiedBefore *time.Time `form:"modifiedBefore,omitempty" json:"modifiedBefore,omitempty"`

	// ModifiedAfter ответы, изменённые после момента (RFC3339)
	ModifiedAfter *time.Time `form:"modifiedAfter,omitempty" json:"modifiedAfter,omitempty"`

	// IncludeRevisions включать исторические ревизии
	IncludeRevisions *bool `form:"includeRevisions,omitempty" json:"includeRevisions,omitempty"`

	// Fields фильтры по полям: name:value (равно) или name^value (не равно)
	Fields *[]string `form:"fields,omitempty" json:"fields,omitempty"`

	// BestEffort отбрасывать неподдерживаемые фильтры вместо ошибки
	BestEffort *bool `form:"bestEffort,omitempty" json:"bestEffort,omitempty"`
}

// GetReplyParams defines parameters for GetReply.
type GetReplyParams struct {
	XOwnerKey *XOwnerKey `json:"X-Owner-Key,omitempty"`
}

// UpdateReplyParams defines parameters for UpdateReply.
type UpdateReplyParams struct {
	XOwnerKey *XOwnerKey `json:"X-Owner-Key,omitempty"`
}

// DeleteReplyParams defines parameters for DeleteReply.
type DeleteReplyParams struct {
	XOwnerKey *XOwnerKey `json:"X-Owner-Key,omitempty"`
}

// UploadAttachmentParams defines parameters for UploadAttachment.
type UploadAttachmentParams struct {
	// Name исходное имя файла
	Name *string `form:"name,omitempty" json:"name,omitempty"`
}

// CreateMetaformJSONRequestBody defines body for CreateMetaform for application/json ContentType.
type CreateMetaformJSONRequestBody = Metaform

// CreateReplyJSONRequestBody defines body for CreateReply for application/json ContentType.
type CreateReplyJSONRequestBody = ReplyData

// UpdateReplyJSONRequestBody defines body for UpdateReply for application/json ContentType.
type UpdateReplyJSONRequestBody = ReplyData
