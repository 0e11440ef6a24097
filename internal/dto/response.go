package dto

// ── batch results ──

// ItemError one failed item of a batch.
type ItemError struct {
	StudentID string `json:"student_id,omitempty"`
	BillID    string `json:"bill_id,omitempty"`
	Message   string `json:"message"`
}

// ── pagination ──

// PaginationRequest common paging parameters
type PaginationRequest struct {
	Page     int `form:"page"      binding:"omitempty,min=1"`
	PageSize int `form:"page_size" binding:"omitempty,min=1,max=100"`
}

// GetPage page with default
func (p *PaginationRequest) GetPage() int {
	if p.Page <= 0 {
		return 1
	}
	return p.Page
}

// GetPageSize page size with default
func (p *PaginationRequest) GetPageSize() int {
	if p.PageSize <= 0 {
		return 20
	}
	return p.PageSize
}

// GetOffset row offset
func (p *PaginationRequest) GetOffset() int {
	return (p.GetPage() - 1) * p.GetPageSize()
}

// DateLayout wire format of calendar days
const DateLayout = "2006-01-02"
