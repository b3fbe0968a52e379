package model

import (
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"
)

// AttachmentKind 附件类型
type AttachmentKind int

const (
	AttachmentNone AttachmentKind = iota
	AttachmentImage
	AttachmentVideo
	AttachmentAudio
	AttachmentDocument
)

// ParseAttachmentKind 未识别的类型按普通文件处理
func ParseAttachmentKind(v string) AttachmentKind {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "image":
		return AttachmentImage
	case "video":
		return AttachmentVideo
	case "audio":
		return AttachmentAudio
	case "":
		return AttachmentNone
	default:
		return AttachmentDocument
	}
}

func (k AttachmentKind) Valid() bool {
	return k >= AttachmentNone && k <= AttachmentDocument
}

func (k AttachmentKind) String() string {
	switch k {
	case AttachmentImage:
		return "image"
	case AttachmentVideo:
		return "video"
	case AttachmentAudio:
		return "audio"
	case AttachmentDocument:
		return "document"
	default:
		return ""
	}
}

// Label 回复预览等场景使用的简短描述
func (k AttachmentKind) Label() string {
	switch k {
	case AttachmentImage:
		return "🖼 Image"
	case AttachmentVideo:
		return "🎬 Video"
	case AttachmentAudio:
		return "🎵 Audio"
	case AttachmentDocument:
		return "📎 File"
	default:
		return ""
	}
}

// Attachment 附件描述
type Attachment struct {
	Kind AttachmentKind
	URL  string
	Name string
	Size int64
}

func (a Attachment) Present() bool { return a.Kind != AttachmentNone }

// DisplaySize 按 1024 进制格式化大小
func (a Attachment) DisplaySize() string {
	if a.Size <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(a.Size))
}

// ResolveURL 相对路径拼接到 API 地址上，绝对地址原样返回
func (a Attachment) ResolveURL(base string) string {
	if a.URL == "" {
		return ""
	}
	if strings.HasPrefix(a.URL, "http://") || strings.HasPrefix(a.URL, "https://") {
		return a.URL
	}
	u, err := url.Parse(base)
	if err != nil {
		return a.URL
	}
	ref, err := url.Parse(a.URL)
	if err != nil {
		return a.URL
	}
	return u.ResolveReference(ref).String()
}
