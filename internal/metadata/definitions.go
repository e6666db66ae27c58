package metadata

import "github.com/joseph-ayodele/docingest/constants"

// Definition binds a document type to its agent prompt and field set.
type Definition struct {
	Type   constants.DocumentType
	Agent  string
	Fields []FieldSpec
}

// Definitions returns the built-in strategies, one per supported type.
func Definitions() []Definition {
	return []Definition{
		{
			Type:  constants.Invoice,
			Agent: "invoice_extractor",
			Fields: []FieldSpec{
				required(str("invoice_number", "numero_factura", "invoice_no")),
				date("issue_date", "fecha", "fecha_emision", "invoice_date"),
				date("due_date", "fecha_vencimiento"),
				str("vendor_name", "proveedor", "supplier", "emisor"),
				str("vendor_tax_id", "nif_proveedor", "cif"),
				str("customer_name", "cliente"),
				str("customer_tax_id", "nif_cliente"),
				num("subtotal", "base_imponible"),
				num("tax_amount", "iva", "vat"),
				required(num("total_amount", "total", "importe_total")),
				str("currency", "moneda"),
				objects("line_items",
					str("description"), num("quantity"), num("unit_price"), num("amount")),
			},
		},
		{
			Type:  constants.Minutes,
			Agent: "minutes_extractor",
			Fields: []FieldSpec{
				required(date("meeting_date", "fecha_reunion", "fecha_junta", "date")),
				str("meeting_type", "tipo_junta"),
				str("location", "lugar"),
				str("president", "presidente"),
				str("secretary", "secretario"),
				num("attendees_count", "asistentes"),
				list("agenda_items", "orden_del_dia", "agenda"),
				list("agreements", "acuerdos"),
				date("next_meeting_date", "proxima_reunion"),
			},
		},
		{
			Type:  constants.Contract,
			Agent: "contract_extractor",
			Fields: []FieldSpec{
				str("contract_title", "titulo", "title"),
				str("contract_type", "tipo_contrato"),
				required(list("parties", "partes")),
				date("effective_date", "fecha_inicio", "start_date"),
				date("end_date", "fecha_fin"),
				num("contract_value", "importe", "value"),
				str("currency", "moneda"),
				str("renewal_terms", "renovacion"),
				str("governing_law", "legislacion_aplicable"),
			},
		},
		{
			Type:  constants.Notice,
			Agent: "notice_extractor",
			Fields: []FieldSpec{
				str("title", "titulo"),
				required(str("subject", "asunto")),
				str("issuer", "emisor", "from"),
				str("recipients", "destinatarios", "to"),
				date("issue_date", "fecha"),
				date("event_date", "fecha_evento"),
				date("deadline", "fecha_limite"),
			},
		},
		{
			Type:  constants.DeliveryNote,
			Agent: "delivery_note_extractor",
			Fields: []FieldSpec{
				str("delivery_number", "numero_albaran"),
				required(date("delivery_date", "fecha_entrega", "fecha")),
				str("supplier_name", "proveedor"),
				str("recipient_name", "destinatario"),
				str("order_reference", "pedido"),
				objects("items", str("description"), num("quantity")),
			},
		},
		{
			Type:  constants.Budget,
			Agent: "budget_extractor",
			Fields: []FieldSpec{
				str("budget_title", "titulo"),
				str("budget_number", "numero_presupuesto"),
				str("issuer", "emisor", "proveedor"),
				date("issue_date", "fecha"),
				date("valid_until", "validez"),
				num("fiscal_year", "ejercicio"),
				required(num("total_amount", "total", "importe_total")),
				str("currency", "moneda"),
				objects("line_items", str("concept"), num("amount")),
			},
		},
		{
			Type:  constants.PropertyDeed,
			Agent: "property_deed_extractor",
			Fields: []FieldSpec{
				str("deed_number", "numero_protocolo"),
				date("deed_date", "fecha_escritura"),
				str("notary", "notario"),
				required(str("property_address", "direccion", "finca")),
				str("cadastral_reference", "referencia_catastral"),
				list("owners", "propietarios", "titulares"),
				str("registry_office", "registro"),
				num("surface_area", "superficie"),
			},
		},
	}
}
