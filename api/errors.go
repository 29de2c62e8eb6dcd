package api

import (
	"errors"
	"net/http"

	"golang.org/x/text/language"

	"github.com/warp/borrow-ledger/lending"
)

// =============================================================================
// ERROR MAPPING
// =============================================================================
//
// statusFor is the only place lending errors become HTTP statuses:
//
//   ErrUnauthorized           401
//   ErrForbidden              403
//   ErrNotFound               404
//   ErrInvalidTransition      409
//   ErrConcurrentModification 409 (safe to retry)
//   ErrValidation             400
//   anything else             500

// Error kinds reported in ErrorResponse.Code when no validation code applies.
const (
	codeUnauthorized = "unauthorized"
	codeForbidden    = "forbidden"
	codeNotFound     = "not_found"
	codeTransition   = "invalid_transition"
	codeConflict     = "concurrent_modification"
	codeBadRequest   = "bad_request"
	codeInternal     = "internal"
)

func statusFor(err error) (int, string) {
	var ve *lending.ValidationError
	switch {
	case errors.Is(err, lending.ErrUnauthorized):
		return http.StatusUnauthorized, codeUnauthorized
	case errors.Is(err, lending.ErrForbidden):
		return http.StatusForbidden, codeForbidden
	case errors.Is(err, lending.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, lending.ErrInvalidTransition):
		return http.StatusConflict, codeTransition
	case errors.Is(err, lending.ErrConcurrentModification):
		return http.StatusConflict, codeConflict
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Code
	case errors.Is(err, lending.ErrValidation):
		return http.StatusBadRequest, codeBadRequest
	}
	return http.StatusInternalServerError, codeInternal
}

// =============================================================================
// LOCALIZED MESSAGES
// =============================================================================

var supported = []language.Tag{language.English, language.Indonesian}

var matcher = language.NewMatcher(supported)

// messages holds one line per code for each supported language, indexed
// like supported. Codes without a line fall back to their kind.
var messages = map[string][2]string{
	codeUnauthorized: {"Sign in required", "Silakan masuk terlebih dahulu"},
	codeForbidden:    {"You do not have permission to do this", "Anda tidak memiliki izin untuk tindakan ini"},
	codeNotFound:     {"Not found", "Data tidak ditemukan"},
	codeTransition:   {"This request cannot change to that status", "Status permintaan tidak dapat diubah"},
	codeConflict:     {"Someone else changed this first, please try again", "Data telah diubah pengguna lain, silakan coba lagi"},
	codeBadRequest:   {"Invalid request", "Permintaan tidak valid"},
	codeInternal:     {"Something went wrong", "Terjadi kesalahan pada server"},

	lending.CodeInvalidQuantity:   {"Quantity must be at least 1", "Jumlah minimal 1"},
	lending.CodeInsufficientStock: {"Not enough items available", "Stok barang tidak mencukupi"},
	lending.CodeInvalidPeriod:     {"Borrow date must be before the return date", "Tanggal pinjam harus sebelum tanggal kembali"},
	lending.CodeReturnDatePast:    {"Return date cannot be in the past", "Tanggal kembali tidak boleh di masa lalu"},
	lending.CodeInvalidDate:       {"Dates must look like 2006-01-02", "Format tanggal harus 2006-01-02"},
	lending.CodeBelowBorrowed:     {"Total cannot be lower than the units on loan", "Jumlah total tidak boleh kurang dari yang sedang dipinjam"},
	lending.CodeItemInUse:         {"This item has borrow records and cannot be deleted", "Barang memiliki riwayat peminjaman dan tidak dapat dihapus"},
	lending.CodeNameRequired:      {"Item name is required", "Nama barang wajib diisi"},
	lending.CodeInvalidAmount:     {"Amount must be a positive whole number", "Jumlah pembayaran harus bilangan bulat positif"},
	lending.CodeExceedsBalance:    {"Amount exceeds the outstanding fine", "Jumlah melebihi denda yang belum dibayar"},
	lending.CodeInvalidRole:       {"This account has already been reviewed", "Akun ini sudah ditinjau"},
	lending.CodeInvalidFilter:     {"Unknown filter", "Filter tidak dikenal"},
	lending.CodeItemRequired:      {"Choose at least one item", "Pilih minimal satu barang"},
}

// localize picks the message for code in the best language acceptLanguage
// allows. English when nothing matches.
func localize(code, acceptLanguage string) string {
	_, idx := language.MatchStrings(matcher, acceptLanguage)
	if idx < 0 || idx >= len(supported) {
		idx = 0
	}
	if m, ok := messages[code]; ok {
		return m[idx]
	}
	return messages[codeBadRequest][idx]
}
