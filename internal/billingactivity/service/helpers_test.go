package service_test

import "github.com/smallbiznis/logibill/pkg/db/pagination"

func paginationOf(size int, token string) pagination.Pagination {
	return pagination.Pagination{PageSize: size, PageToken: token}
}
