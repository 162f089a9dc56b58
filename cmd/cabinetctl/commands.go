package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/zombor/file-cabinet/internal/cabinet"
	"github.com/zombor/file-cabinet/internal/document"
)

func newIngestCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Classify, extract and file one or more documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, opts, func(service *cabinet.Service) error {
				var failed int
				for _, path := range args {
					data, err := os.ReadFile(path)
					if err != nil {
						return fmt.Errorf("reading %s: %w", path, err)
					}
					name := filepath.Base(path)
					contentType, _ := cabinet.ContentTypeFor(name)

					result, err := service.Ingest(ctx, name, data, contentType)
					if errors.Is(err, cabinet.ErrDuplicate) {
						failed++
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: already filed\n", path)
						continue
					}
					if err != nil {
						return fmt.Errorf("ingesting %s: %w", path, err)
					}
					if err := printJSON(cmd.OutOrStdout(), result); err != nil {
						return err
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d files were duplicates", failed, len(args))
				}
				return nil
			})
		},
	}
}

func newDupCheckCmd(opts *rootOptions) *cobra.Command {
	var (
		vendor        string
		invoiceNumber string
		total         float64
		invoiceDate   string
	)
	cmd := &cobra.Command{
		Use:   "dupcheck <file>",
		Short: "Check a document for duplicates without filing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}

			fields := map[string]any{}
			if vendor != "" {
				fields["vendor"] = vendor
			}
			if invoiceNumber != "" {
				fields["invoice_number"] = invoiceNumber
			}
			if cmd.Flags().Changed("total") {
				fields["total"] = total
			}
			if invoiceDate != "" {
				fields["invoice_date"] = invoiceDate
			}

			return withApp(ctx, opts, func(service *cabinet.Service) error {
				result, err := service.CheckDuplicate(ctx, filepath.Base(args[0]), data, fields)
				if err != nil && !errors.Is(err, cabinet.ErrDuplicate) {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().StringVar(&vendor, "vendor", "", "Vendor name")
	cmd.Flags().StringVar(&invoiceNumber, "invoice-number", "", "Invoice number")
	cmd.Flags().Float64Var(&total, "total", 0, "Invoice total")
	cmd.Flags().StringVar(&invoiceDate, "invoice-date", "", "Invoice date")
	return cmd
}

func newRecordsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "List and manage filed records",
	}
	cmd.AddCommand(
		newRecordsListCmd(opts),
		newRecordsStatusCmd(opts),
		newRecordsDeleteCmd(opts),
	)
	return cmd
}

func newRecordsListCmd(opts *rootOptions) *cobra.Command {
	var docType, query string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := cabinet.RecordFilter{Query: query}
			if docType != "" {
				filter.Type = document.ParseDocumentType(docType)
			}
			return withApp(cmd.Context(), opts, func(service *cabinet.Service) error {
				records, err := service.ListRecords(filter)
				if err != nil {
					return err
				}
				if records == nil {
					records = []*cabinet.Record{}
				}
				return printJSON(cmd.OutOrStdout(), records)
			})
		},
	}
	cmd.Flags().StringVar(&docType, "type", "", "Only records of this document type")
	cmd.Flags().StringVarP(&query, "query", "q", "", "Only records whose fields contain this text")
	return cmd
}

func newRecordsStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <open|paid>",
		Short: "Set the payment status of a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(service *cabinet.Service) error {
				record, err := service.SetRecordStatus(args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), record)
			})
		},
	}
}

func newRecordsDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(service *cabinet.Service) error {
				return service.DeleteRecord(args[0])
			})
		},
	}
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all records as CSV or XLSX",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			exportFormat, err := cabinet.ParseExportFormat(format)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, func(service *cabinet.Service) error {
				if out == "" || out == "-" {
					return service.ExportRecords(cmd.OutOrStdout(), exportFormat)
				}
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("creating %s: %w", out, err)
				}
				if err := service.ExportRecords(f, exportFormat); err != nil {
					f.Close()
					return err
				}
				return f.Close()
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "Export format: csv or xlsx")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "Output file, - for stdout")
	return cmd
}

func newBillsCmd(opts *rootOptions) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "bills",
		Short: "List accounts payable bills",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(service *cabinet.Service) error {
				bills, err := service.ListPayables(status)
				if err != nil {
					return err
				}
				if bills == nil {
					bills = []cabinet.Bill{}
				}
				return printJSON(cmd.OutOrStdout(), bills)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "open", "Bill status: open, paid or all")
	return cmd
}
