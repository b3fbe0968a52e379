package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"im-client/internal/model"
)

// MaxAttachmentSize 单个附件上限
const MaxAttachmentSize = 50 << 20

var ErrAttachmentTooLarge = errors.New("file size must be less than 50MB")

// UploadResult 上传响应
type UploadResult struct {
	AttachmentID model.ID `json:"attachmentId"`
	FileName     string   `json:"fileName,omitempty"`
	FileURL      string   `json:"fileUrl,omitempty"`
	FileType     string   `json:"fileType,omitempty"`
	FileSize     int64    `json:"fileSize,omitempty"`
}

// AttachmentRepository 附件上传与发送
type AttachmentRepository struct {
	client *Client
}

func NewAttachmentRepository(client *Client) *AttachmentRepository {
	return &AttachmentRepository{client: client}
}

// Upload 以 multipart 流式上传附件，progress 收到 0-100 的百分比
// size 未知时传 0，此时不报告进度，但仍在读取过程中检查上限
func (r *AttachmentRepository) Upload(ctx context.Context, roomID, name string, src io.Reader, size int64, progress func(percent int)) (*UploadResult, error) {
	if size > MaxAttachmentSize {
		return nil, ErrAttachmentTooLarge
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	body := &progressReader{r: src, total: size, report: progress, last: -1}
	go func() {
		pw.CloseWithError(writeUpload(mw, roomID, name, body))
	}()

	req, err := r.client.newRequest(ctx, http.MethodPost, "/attachments/upload", nil, pr)
	if err != nil {
		_ = pr.CloseWithError(err)
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out UploadResult
	if err := r.client.do(req, &out); err != nil {
		if errors.Is(err, ErrAttachmentTooLarge) {
			return nil, ErrAttachmentTooLarge
		}
		return nil, fmt.Errorf("上传附件失败: %w", err)
	}
	if out.AttachmentID == "" {
		return nil, errors.New("upload response without attachment id")
	}
	return &out, nil
}

func writeUpload(mw *multipart.Writer, roomID, name string, src io.Reader) error {
	if err := mw.WriteField("roomId", roomID); err != nil {
		return err
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, src); err != nil {
		return err
	}
	return mw.Close()
}

// Send 把已上传的附件作为消息发送到房间，content 可以为空
func (r *AttachmentRepository) Send(ctx context.Context, attachmentID model.ID, roomID, content string) error {
	in := struct {
		AttachmentID model.ID `json:"attachmentId"`
		RoomID       string   `json:"roomId"`
		Content      string   `json:"content"`
	}{attachmentID, roomID, content}
	return r.client.doJSON(ctx, http.MethodPost, "/attachments/send", nil, in, nil)
}

// progressReader 统计已读字节，超过上限时中止
type progressReader struct {
	r      io.Reader
	read   int64
	total  int64
	last   int
	report func(int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.read > MaxAttachmentSize {
		return n, ErrAttachmentTooLarge
	}
	if p.report != nil && p.total > 0 {
		percent := int(p.read * 100 / p.total)
		if percent > 100 {
			percent = 100
		}
		if percent != p.last {
			p.last = percent
			p.report(percent)
		}
	}
	return n, err
}
